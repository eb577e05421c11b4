// Package wire frames cache entries for storage. An entry is a
// self-describing envelope (payload bytes plus write-time metadata) encoded
// with msgpack and optionally zlib-compressed at the level configured for
// the entry's data class.
//
// Frame: magic(4) | ver(1) | flags(1) | body
//
// Decoding is strict: unknown versions, unknown flag bits, and bodies that
// fail inflation or deserialization all return ErrCorrupt so the caller can
// fail closed (treat as miss and purge).
package wire

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	version byte = 1

	flagCompressed byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("tagcache: corrupt entry")
	magic4     = [...]byte{'T', 'G', 'C', '1'}
)

// Envelope carries the encoded value and the metadata recorded at write time.
type Envelope struct {
	Payload  []byte   `msgpack:"p"`
	CachedAt int64    `msgpack:"at"`  // unix seconds
	TTL      int64    `msgpack:"ttl"` // seconds granted at write
	Class    string   `msgpack:"dc"`
	Tags     []string `msgpack:"tags,omitempty"`
}

// Encode serializes the envelope and compresses it at the given zlib level.
// Level <= 0 is passthrough. Compression that does not shrink the body is
// discarded so small or already-dense payloads never pay inflation overhead
// on read.
func Encode(env Envelope, level int) ([]byte, error) {
	body, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, err
	}

	var flags byte
	if level > 0 {
		if level > zlib.BestCompression {
			level = zlib.BestCompression
		}
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(body) {
			body = buf.Bytes()
			flags |= flagCompressed
		}
	}

	out := make([]byte, 0, 4+1+1+len(body))
	out = append(out, magic4[:]...)
	out = append(out, version, flags)
	out = append(out, body...)
	return out, nil
}

// Decode reverses Encode. Any framing or body violation is ErrCorrupt.
func Decode(b []byte) (Envelope, error) {
	const hdr = 4 + 1 + 1
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Envelope{}, ErrCorrupt
	}
	flags := b[5]
	if flags&^flagCompressed != 0 {
		return Envelope{}, ErrCorrupt
	}

	body := b[hdr:]
	if flags&flagCompressed != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return Envelope{}, ErrCorrupt
		}
		inflated, err := io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return Envelope{}, ErrCorrupt
		}
		body = inflated
	}

	var env Envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return Envelope{}, ErrCorrupt
	}
	return env, nil
}
