// Package subscriber implements the invalidation/update consumer: it
// observes peer writes over the secondary tier's pub/sub bus and
// backfills L1 from the secondary store in response.
package subscriber

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sabirovruslan/synapse/internal/l1"
	"github.com/sabirovruslan/synapse/internal/metrics"
	"github.com/sabirovruslan/synapse/internal/secondary"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Loop runs only when a secondary.Client is configured.
type Loop struct {
	l1      *l1.Store
	sec     *secondary.Client
	metrics *metrics.Set
}

// New builds a Loop over store, fed by sec.
func New(store *l1.Store, sec *secondary.Client, m *metrics.Set) *Loop {
	return &Loop{l1: store, sec: sec, metrics: m}
}

// Run blocks until ctx is done. Any failure of the subscription or a
// secondary-store read ends the current inner pass; the outer loop then
// sleeps for an exponentially growing backoff (200ms initial, doubling,
// capped at 30s) before reconnecting. A clean inner pass resets the
// backoff to initialBackoff; runOnce ends cleanly only once ctx is done,
// so Run returns right after such a pass. Each call to Run starts from
// initialBackoff.
func (l *Loop) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.runOnce(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("subscriber: inner loop exited, entering backoff")
			if l.metrics != nil {
				l.metrics.Backoffs.Inc()
			}
		}
		backoff = nextBackoff(backoff, err != nil)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// nextBackoff is the reconnect delay state machine: doubling from
// initialBackoff, capped at maxBackoff, reset to initialBackoff after a
// pass that ends cleanly.
func nextBackoff(current time.Duration, failed bool) time.Duration {
	if !failed {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// runOnce subscribes and consumes events until the subscription breaks,
// a secondary-store read fails, or ctx is done.
func (l *Loop) runOnce(ctx context.Context) error {
	pubsub := l.sec.Subscribe(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscriber: pub/sub channel closed")
			}
			if err := l.handleMessage(ctx, []byte(msg.Payload)); err != nil {
				return err
			}
		}
	}
}

// handleMessage processes one Update event. A decode failure is logged
// and skipped (not terminal); a secondary-store read failure is
// propagated so runOnce ends the inner pass and the outer loop backs off.
func (l *Loop) handleMessage(ctx context.Context, payload []byte) error {
	update, err := secondary.DecodeUpdate(payload)
	if err != nil {
		log.Warn().Err(err).Msg("subscriber: decode failed, skipping event")
		if l.metrics != nil {
			l.metrics.Error.WithLabelValues("subscriber_decode").Inc()
		}
		return nil
	}

	prefixedKey := l.sec.PrefixedKey(update.Key)
	value, found, err := l.sec.Get(ctx, prefixedKey)
	if err != nil {
		log.Warn().Err(err).Str("key", update.Key).Msg("subscriber: secondary read failed")
		return err
	}
	if !found {
		return nil
	}

	var ttlSecs uint64
	if update.TTLSecs != nil {
		ttlSecs = *update.TTLSecs
	}
	l.l1.Set(update.Key, value, ttlSecs)
	return nil
}
