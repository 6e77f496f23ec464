// Package l1 implements the bounded, concurrent in-memory cache tier.
// Values and their absolute expiry live in a github.com/coocood/freecache
// instance; a github.com/hashicorp/golang-lru/v2 index tracks the live key
// set and turns freecache's byte-budgeted, approximate eviction into a
// hard entry-count ceiling.
package l1

import (
	"context"
	"sync"
	"time"

	"github.com/coocood/freecache"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/sabirovruslan/synapse/internal/metrics"
	"github.com/sabirovruslan/synapse/internal/protocol"
)

// bytesPerEntryHint sizes the freecache byte budget from a capacity
// expressed in entries. freecache has no notion of "N entries"; this is
// a coarse heuristic, generous enough that the index (not freecache's own
// byte pressure) is what decides evictions in the common case.
const bytesPerEntryHint = 4 * 1024

// minCacheBytes is the smallest byte budget New hands to freecache, which
// carves it into 256 segments (4 KiB each at this floor).
const minCacheBytes = 1 << 20

// reapInterval is how often the background goroutine sweeps the index for
// keys whose freecache entry has already expired.
const reapInterval = time.Second

// Store is the L1 cache. Safe for concurrent use by many goroutines; all
// locking is internal.
type Store struct {
	mu      sync.Mutex
	bytes   *freecache.Cache
	index   *lru.Cache[string, struct{}]
	metrics *metrics.Set
}

// New builds a Store bounded to capacity live entries. m may be nil in
// tests that don't care about metrics.
func New(capacity int, m *metrics.Set) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	size := capacity * bytesPerEntryHint
	if size < minCacheBytes {
		size = minCacheBytes
	}

	s := &Store{
		bytes:   freecache.NewCache(size),
		metrics: m,
	}

	// The eviction callback fires synchronously from index.Add (capacity
	// eviction) and from index.Remove (stale or unstorable keys), still
	// holding the Store's own mutex (both are always called with s.mu
	// held) — freecache.Del takes its own internal lock, so there's no
	// reentrancy hazard. Evicted therefore counts every index removal.
	idx, err := lru.NewWithEvict[string, struct{}](capacity, func(key string, _ struct{}) {
		s.bytes.Del([]byte(key))
		if s.metrics != nil {
			s.metrics.Evicted.Inc()
		}
	})
	if err != nil {
		// Only returned for capacity <= 0, which we've already guarded.
		log.Fatal().Err(err).Msg("l1: failed to build capacity index")
	}
	s.index = idx
	return s
}

// Get returns Hit(value) for a live entry, Miss otherwise. Never errors.
func (s *Store) Get(key string) protocol.CacheResponce {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.bytes.Get([]byte(key))
	if err != nil {
		// Either never set, or freecache already reclaimed it on TTL
		// expiry; either way the index entry (if any) is stale.
		s.index.Remove(key)
		if s.metrics != nil {
			s.metrics.Miss.WithLabelValues(metrics.TierL1).Inc()
		}
		return protocol.Miss()
	}

	if s.metrics != nil {
		s.metrics.Hit.WithLabelValues(metrics.TierL1).Inc()
	}
	out := make([]byte, len(value))
	copy(out, value)
	return protocol.Hit(out)
}

// Set inserts or replaces key's entry. ttlSecs of 0 means no TTL. Never
// fails; a capacity-triggered eviction of some other key may happen as a
// side effect.
func (s *Store) Set(key string, value []byte, ttlSecs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Touch the index first so a capacity-triggered eviction of a
	// different key runs before we write the new value, never after.
	s.index.Add(key, struct{}{})

	if err := s.bytes.Set([]byte(key), value, int(ttlSecs)); err != nil {
		// freecache only errors when a single entry is larger than one
		// segment; unreachable given the 64MiB frame cap against
		// freecache's default segment sizing, but don't panic.
		log.Warn().Err(err).Str("key", key).Msg("l1: set failed")
		s.index.Remove(key)
	}
}

// EntryCount returns the number of live keys tracked by the capacity
// index. This, not freecache's own internal counters, is the authority
// for "count <= capacity after any quiescent point".
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// Run sweeps the index for entries that expired in freecache without an
// intervening Get, reclaiming their index slot. It blocks until ctx is
// done; callers spawn it as a goroutine alongside the server and
// subscriber loops.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

func (s *Store) reapExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.index.Keys() {
		if _, err := s.bytes.Get([]byte(key)); err != nil {
			s.index.Remove(key)
		}
	}
}
