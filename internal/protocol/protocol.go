// Package protocol implements the Synapse wire format: a length-delimited
// frame carrying either a request Command or a CacheResponce, laid out as
// bit-exact little-endian payloads behind a big-endian uint32 frame length.
//
// The two directions are deliberately kept on the standard library only
// (encoding/binary, io): the layout is an ad hoc, fixed byte grammar,
// not something a general-purpose serialization format would reproduce.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Opcodes and result codes. Values are part of the wire contract.
const (
	OpGet byte = 1
	OpSet byte = 2
)

const (
	ResOk   byte = 0
	ResHit  byte = 1
	ResMiss byte = 2
	ResErr  byte = 3
)

// MaxFrameLength is the largest payload, in bytes, a single frame may carry.
// A frame whose declared length prefix exceeds this is a framing error.
const MaxFrameLength = 64 * 1024 * 1024

// CommandKind tags which variant a Command holds.
type CommandKind int

const (
	CmdGet CommandKind = iota
	CmdSet
)

// Command is the sum type { Get{key}, Set{key, value, ttl_secs} }.
type Command struct {
	Kind    CommandKind
	Key     string
	Value   []byte
	TTLSecs uint64 // 0 means no TTL; only meaningful for CmdSet
}

// GetCommand builds a Get command.
func GetCommand(key string) Command {
	return Command{Kind: CmdGet, Key: key}
}

// SetCommand builds a Set command. ttlSecs of 0 means "no TTL".
func SetCommand(key string, value []byte, ttlSecs uint64) Command {
	return Command{Kind: CmdSet, Key: key, Value: value, TTLSecs: ttlSecs}
}

// ResponseKind tags which variant a Response holds.
type ResponseKind int

const (
	RespOk ResponseKind = iota
	RespHit
	RespMiss
	RespError
)

// Response is the sum type { Ok, Hit(bytes), Miss, Error(string) }.
//
// The exported name is CacheResponce (sic) to preserve the original's typo
// as a stable, pinned identifier per the protocol's design notes.
type CacheResponce struct {
	Kind  ResponseKind
	Value []byte
	Err   string
}

func Ok() CacheResponce                { return CacheResponce{Kind: RespOk} }
func Hit(value []byte) CacheResponce   { return CacheResponce{Kind: RespHit, Value: value} }
func Miss() CacheResponce              { return CacheResponce{Kind: RespMiss} }
func Error(msg string) CacheResponce   { return CacheResponce{Kind: RespError, Err: msg} }

// DecodeCommand parses a single complete frame payload into a Command.
// Trailing bytes beyond the declared lengths are ignored, not an error.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) == 0 {
		return Command{}, errors.New("Buf is empty")
	}

	op := buf[0]
	rest := buf[1:]

	switch op {
	case OpGet:
		if len(rest) < 4 {
			return Command{}, errors.New("Bad key_len")
		}
		keyLen := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if len(rest) < keyLen {
			return Command{}, errors.New("Bad key_len")
		}
		key, err := utf8Key(rest[:keyLen])
		if err != nil {
			return Command{}, err
		}
		return GetCommand(key), nil

	case OpSet:
		if len(rest) < 16 {
			return Command{}, errors.New("Bad lenghts")
		}
		keyLen := int(binary.LittleEndian.Uint32(rest[0:4]))
		valueLen := int(binary.LittleEndian.Uint32(rest[4:8]))
		ttlRaw := binary.LittleEndian.Uint64(rest[8:16])
		rest = rest[16:]

		if len(rest) < keyLen+valueLen {
			return Command{}, errors.New("Bad lenghts")
		}
		key, err := utf8Key(rest[:keyLen])
		if err != nil {
			return Command{}, err
		}
		value := make([]byte, valueLen)
		copy(value, rest[keyLen:keyLen+valueLen])
		return SetCommand(key, value, ttlRaw), nil

	default:
		return Command{}, errors.New("Unknown op")
	}
}

func utf8Key(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("Bad key utf-8: invalid utf-8 sequence")
	}
	return string(b), nil
}

// EncodeResponse renders a CacheResponce into its wire payload. Total: never
// errors.
func EncodeResponse(r CacheResponce) []byte {
	switch r.Kind {
	case RespOk:
		return []byte{ResOk}
	case RespMiss:
		return []byte{ResMiss}
	case RespHit:
		out := make([]byte, 0, 1+4+len(r.Value))
		out = append(out, ResHit)
		out = appendU32LE(out, uint32(len(r.Value)))
		out = append(out, r.Value...)
		return out
	case RespError:
		msg := []byte(r.Err)
		out := make([]byte, 0, 1+4+len(msg))
		out = append(out, ResErr)
		out = appendU32LE(out, uint32(len(msg)))
		out = append(out, msg...)
		return out
	default:
		return []byte{ResErr}
	}
}

// EncodeCommand is the client-side inverse of DecodeCommand, used by test
// harnesses and any future client bindings; the server itself never calls
// this.
func EncodeCommand(c Command) []byte {
	switch c.Kind {
	case CmdGet:
		out := make([]byte, 0, 1+4+len(c.Key))
		out = append(out, OpGet)
		out = appendU32LE(out, uint32(len(c.Key)))
		out = append(out, c.Key...)
		return out
	case CmdSet:
		out := make([]byte, 0, 1+4+4+8+len(c.Key)+len(c.Value))
		out = append(out, OpSet)
		out = appendU32LE(out, uint32(len(c.Key)))
		out = appendU32LE(out, uint32(len(c.Value)))
		out = appendU64LE(out, c.TTLSecs)
		out = append(out, c.Key...)
		out = append(out, c.Value...)
		return out
	default:
		return nil
	}
}

// DecodeResponse is the client-side inverse of EncodeResponse.
func DecodeResponse(buf []byte) (CacheResponce, error) {
	if len(buf) == 0 {
		return CacheResponce{}, errors.New("Buf is empty")
	}
	switch buf[0] {
	case ResOk:
		return Ok(), nil
	case ResMiss:
		return Miss(), nil
	case ResHit:
		if len(buf) < 5 {
			return CacheResponce{}, errors.New("Bad lenghts")
		}
		valLen := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+valLen {
			return CacheResponce{}, errors.New("Bad lenghts")
		}
		value := make([]byte, valLen)
		copy(value, buf[5:5+valLen])
		return Hit(value), nil
	case ResErr:
		if len(buf) < 5 {
			return CacheResponce{}, errors.New("Bad lenghts")
		}
		msgLen := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+msgLen {
			return CacheResponce{}, errors.New("Bad lenghts")
		}
		return Error(string(buf[5 : 5+msgLen])), nil
	default:
		return CacheResponce{}, errors.New("Unknown op")
	}
}

func appendU32LE(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU64LE(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// ReadFrame reads one length-delimited frame from r: a big-endian uint32
// length prefix followed by that many payload bytes. A declared length
// exceeding MaxFrameLength is a framing error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", n, MaxFrameLength)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as one length-delimited frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("frame length %d exceeds maximum %d", len(payload), MaxFrameLength)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
