package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommandRoundTrip(t *testing.T) {
	cases := []Command{
		GetCommand("alpha"),
		SetCommand("beta", []byte("v1"), 0),
		SetCommand("gamma", []byte{}, 42),
		SetCommand("delta", bytes.Repeat([]byte{0xAB}, 4096), 1),
	}

	for _, c := range cases {
		encoded := EncodeCommand(c)
		got, err := DecodeCommand(encoded)
		require.NoError(t, err)
		assert.Equal(t, c.Kind, got.Kind)
		assert.Equal(t, c.Key, got.Key)
		assert.Equal(t, c.Value, got.Value)
		assert.Equal(t, c.TTLSecs, got.TTLSecs)
	}
}

func TestEncodeResponseDecodeResponseRoundTrip(t *testing.T) {
	cases := []CacheResponce{
		Ok(),
		Miss(),
		Hit([]byte("v1")),
		Hit([]byte{}),
		Error("boom"),
	}

	for _, r := range cases {
		encoded := EncodeResponse(r)
		got, err := DecodeResponse(encoded)
		require.NoError(t, err)
		assert.Equal(t, r.Kind, got.Kind)
		assert.Equal(t, r.Value, got.Value)
		assert.Equal(t, r.Err, got.Err)
	}
}

func TestDecodeCommandEmptyBuf(t *testing.T) {
	_, err := DecodeCommand(nil)
	require.EqualError(t, err, "Buf is empty")
}

func TestDecodeCommandUnknownOp(t *testing.T) {
	for _, op := range []byte{0, 3, 255} {
		_, err := DecodeCommand([]byte{op})
		require.EqualError(t, err, "Unknown op")
	}
}

func TestDecodeCommandTruncatedGet(t *testing.T) {
	buf := EncodeCommand(GetCommand("alpha"))
	truncated := buf[:len(buf)-2]
	_, err := DecodeCommand(truncated)
	require.Error(t, err)
}

func TestDecodeCommandTruncatedSet(t *testing.T) {
	buf := EncodeCommand(SetCommand("alpha", []byte("hello world"), 5))
	truncated := buf[:len(buf)-3]
	_, err := DecodeCommand(truncated)
	require.EqualError(t, err, "Bad lenghts")
}

func TestDecodeCommandBadKeyUTF8(t *testing.T) {
	buf := EncodeCommand(GetCommand("x"))
	// corrupt the key byte with an invalid UTF-8 lead byte.
	buf[len(buf)-1] = 0xFF
	_, err := DecodeCommand(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad key utf-8")
}

func TestDecodeCommandIgnoresTrailingBytes(t *testing.T) {
	buf := EncodeCommand(GetCommand("alpha"))
	buf = append(buf, 0xDE, 0xAD, 0xBE, 0xEF)
	got, err := DecodeCommand(buf)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Key)
}

func TestEncodeResponseNeverExceedsBound(t *testing.T) {
	val := bytes.Repeat([]byte{1}, 1024)
	hit := EncodeResponse(Hit(val))
	assert.LessOrEqual(t, len(hit), 1+4+len(val))

	msg := "some error message"
	errResp := EncodeResponse(Error(msg))
	assert.LessOrEqual(t, len(errResp), 1+4+len(msg))
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	lenBuf[0] = 0xFF // declares an absurd length
	buf.Write(lenBuf)
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
