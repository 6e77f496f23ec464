package secondary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestPrefixedKey(t *testing.T) {
	c := &Client{prefix: "synapse:cache:"}
	assert.Equal(t, "synapse:cache:alpha", c.PrefixedKey("alpha"))

	c2 := &Client{prefix: ""}
	assert.Equal(t, "alpha", c2.PrefixedKey("alpha"))
}

func TestDecodeUpdateRoundTrip(t *testing.T) {
	ttl := uint64(42)
	payload, err := msgpack.Marshal(Update{Key: "alpha", TTLSecs: &ttl})
	require.NoError(t, err)

	got, err := DecodeUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Key)
	require.NotNil(t, got.TTLSecs)
	assert.Equal(t, ttl, *got.TTLSecs)
}

func TestDecodeUpdateNoTTL(t *testing.T) {
	payload, err := msgpack.Marshal(Update{Key: "beta", TTLSecs: nil})
	require.NoError(t, err)

	got, err := DecodeUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Key)
	assert.Nil(t, got.TTLSecs)
}

func TestDecodeUpdateMalformedPayload(t *testing.T) {
	_, err := DecodeUpdate([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}
