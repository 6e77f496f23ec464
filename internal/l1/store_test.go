package l1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/sabirovruslan/synapse/internal/protocol"
)

func TestGetMiss(t *testing.T) {
	s := New(10, nil)
	resp := s.Get("missing")
	assert.Equal(t, protocol.RespMiss, resp.Kind)
}

func TestSetThenGetHit(t *testing.T) {
	s := New(10, nil)
	s.Set("alpha", []byte("hello"), 0)
	resp := s.Get("alpha")
	assert.Equal(t, protocol.RespHit, resp.Kind)
	assert.Equal(t, []byte("hello"), resp.Value)
}

func TestTTLExpiry(t *testing.T) {
	s := New(10, nil)
	s.Set("beta", []byte("value"), 1)
	time.Sleep(1200 * time.Millisecond)
	resp := s.Get("beta")
	assert.Equal(t, protocol.RespMiss, resp.Kind)
}

func TestSecondSetWins(t *testing.T) {
	s := New(10, nil)
	s.Set("k", []byte("v1"), 0)
	s.Set("k", []byte("v2"), 0)
	resp := s.Get("k")
	assert.Equal(t, protocol.RespHit, resp.Kind)
	assert.Equal(t, []byte("v2"), resp.Value)
}

func TestCapacityBound(t *testing.T) {
	capacity := 3
	s := New(capacity, nil)
	for i := 0; i < capacity+5; i++ {
		key := string(rune('a' + i))
		s.Set(key, []byte("value"), 30)
	}
	assert.Equal(t, capacity, s.EntryCount())
}

func TestCapacityNeverExceeded(t *testing.T) {
	capacity := 4
	s := New(capacity, nil)
	for i := 0; i < 50; i++ {
		key := string(rune('a' + (i % 26)))
		s.Set(key, []byte("v"), 0)
		assert.LessOrEqual(t, s.EntryCount(), capacity)
	}
}
