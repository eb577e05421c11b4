// Package store defines the backing key-value contract tagcache runs on.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// or appended metadata, no re-encoding, no mutation). If a backend performs
// internal transforms they must be fully reversed before Get returns.
//
// The keyspace under the "cache:" prefix is owned by tagcache. External
// writers under that prefix are treated as corruption by strict envelope
// validation and deleted.
package store

import (
	"context"
	"time"
)

// Store is the remote keyed byte store with TTLs, named sets, counter
// hashes, cursor scans and atomic multi-command batches. Implementations
// must be safe for concurrent use by many goroutines sharing one connection
// pool.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// IO/remote errors return (nil, false, err); a timeout is an error,
	// never a definitive miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets the key's TTL. Returns false when the key is gone.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Named-set operations backing the tag/type indices.
	SAdd(ctx context.Context, set string, members ...string) error
	SRem(ctx context.Context, set string, members ...string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	SCard(ctx context.Context, set string) (int64, error)

	// Hash-field counters backing hit/miss stats.
	HIncrBy(ctx context.Context, key, field string, delta int64) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Scan walks the keyspace one bounded batch at a time.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)

	// Clear deletes every key matching the glob in one server-side
	// operation and returns the number removed.
	Clear(ctx context.Context, match string) (int64, error)

	// Batch starts an atomic multi-command batch. Queued commands apply
	// all-or-nothing on Exec.
	Batch() Batch

	// Info returns the store's own memory and expiry counters.
	Info(ctx context.Context) (ServerInfo, error)

	// Close releases the connection pool.
	Close(ctx context.Context) error
}

// Batch queues commands for one atomic round trip. Not safe for concurrent
// use; build and Exec a batch on a single goroutine.
type Batch interface {
	Set(key string, value []byte, ttl time.Duration)
	SAdd(set string, members ...string)
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
	Exec(ctx context.Context) error
}

// ServerInfo carries counters reported by the store itself, passed through
// verbatim in cache stats.
type ServerInfo struct {
	UsedMemory      int64
	UsedMemoryHuman string
	ExpiredKeys     int64
	EvictedKeys     int64
}
