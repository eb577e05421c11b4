// Package keys canonicalizes caller-supplied key material into stable
// storage keys. Plain strings are used verbatim; structured material is
// serialized deterministically (RFC 8949 core deterministic CBOR, map keys
// sorted) so that semantically identical inputs always hash identically.
//
// Keyspace layout, all under the "cache" namespace:
//
//	cache:<class>:<digest>  - entries
//	cache:tag:<tag>         - tag index sets
//	cache:type:<class>      - data-class index sets
//	cache:stats:<counter>   - hit/miss counter hashes
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Namespace is the prefix owned by the cache. External code must not write
// under it; foreign values fail strict envelope validation and get deleted.
const Namespace = "cache"

// Scan patterns for the index keyspaces.
const (
	TagPattern  = Namespace + ":tag:*"
	TypePattern = Namespace + ":type:*"
)

// ErrKeyShape marks key material outside the accepted set of shapes.
// Identity hashing of arbitrary values is not a fallback: it is not
// reproducible across processes, so such material is rejected outright.
var ErrKeyShape = errors.New("keys: unsupported key material shape")

var det cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	det = em
}

// Canonicalize reduces key material to canonical bytes. The accepted shapes
// are closed: strings and byte slices pass through verbatim; maps, slices,
// and scalar primitives are encoded deterministically; everything else is
// rejected with ErrKeyShape.
func Canonicalize(material any) ([]byte, error) {
	switch v := material.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case map[string]any, map[string]string,
		[]any, []string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, bool:
		b, err := det.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %T: %v", ErrKeyShape, material, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrKeyShape, material)
	}
}

// Digest returns a 128-bit hex digest of the canonical bytes. Collision
// resistance is not a security requirement here, only stable addressing.
func Digest(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}

// Entry builds the storage key for a cached entry.
func Entry(class string, material any) (string, error) {
	canonical, err := Canonicalize(material)
	if err != nil {
		return "", err
	}
	return Namespace + ":" + class + ":" + Digest(canonical), nil
}

// Tag builds the storage key of a tag index set.
func Tag(tag string) string { return Namespace + ":tag:" + tag }

// Type builds the storage key of a data-class index set.
func Type(class string) string { return Namespace + ":type:" + class }

// Stats builds the storage key of a counter hash ("hits", "misses").
func Stats(counter string) string { return Namespace + ":stats:" + counter }
