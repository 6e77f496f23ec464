package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDoublesOnFailure(t *testing.T) {
	b := initialBackoff
	seen := []time.Duration{}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b, true)
		seen = append(seen, b)
	}

	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i] >= seen[i-1], "backoff must never shrink while failing")
	}
	assert.Equal(t, maxBackoff, seen[len(seen)-1])
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	b := maxBackoff
	b = nextBackoff(b, true)
	assert.Equal(t, maxBackoff, b)
}

func TestNextBackoffResetsOnSuccess(t *testing.T) {
	b := nextBackoff(maxBackoff, true)
	assert.Equal(t, maxBackoff, b)

	b = nextBackoff(b, false)
	assert.Equal(t, initialBackoff, b)
}
