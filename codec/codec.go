// Package codec provides pluggable value (de)serialization for tagcache.
// One cache instance spans many data classes with heterogeneous value types,
// so codecs work on dynamically typed values rather than a fixed V.
package codec

// Codec encodes and decodes cached values. Decode must reconstruct a value
// such that re-encoding it yields equivalent bytes; dynamically typed codecs
// return map[string]any / []any shaped values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}
