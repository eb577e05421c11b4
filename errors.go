package tagcache

import (
	"fmt"
)

// EncodingError reports key material or a value that could not be encoded.
// It fails the Set directly; there is no internal retry.
type EncodingError struct {
	Class string
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode for class %q failed: %v", e.Class, e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// DecodingError reports a stored payload that is corrupt or
// version-incompatible. The entry is purged and the read treated as a miss;
// this error is logged, never returned to callers.
type DecodingError struct {
	Key   string
	Cause error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode of %q failed: %v", e.Key, e.Cause)
}

func (e *DecodingError) Unwrap() error { return e.Cause }

// StoreError wraps a failed store round trip (connection loss, timeout).
// A timed-out write may have partially applied, so it is never folded into
// a definitive miss internally.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// PartialInvalidationError reports a bulk delete that only partially
// applied. Removed is the best-known count of keys deleted before the
// failure; maintenance heals whatever was left behind.
type PartialInvalidationError struct {
	Scope   string // "tag:<t>", "type:<dc>", "pattern:<glob>"
	Removed int64
	Cause   error
}

func (e *PartialInvalidationError) Error() string {
	return fmt.Sprintf("invalidation %s partially applied (%d removed): %v", e.Scope, e.Removed, e.Cause)
}

func (e *PartialInvalidationError) Unwrap() error { return e.Cause }
