package tagcache

import (
	"context"
	"time"

	c "github.com/Feustey/tagcache/codec"
	st "github.com/Feustey/tagcache/store"
)

// ClassPolicy configures one data class.
type ClassPolicy struct {
	// TTL granted on Set and restored in full by every Get hit.
	TTL time.Duration
	// Compression is the zlib level (0 = passthrough .. 9 = max) applied
	// to encoded payloads. Keep 0 for small structured payloads where the
	// overhead would dominate, low levels for already-dense numeric data,
	// mid levels for text.
	Compression int
}

// Cache is the tagged-invalidation cache facade. All methods are safe for
// concurrent use; correctness relies on the store's atomic primitives, not
// on in-process locking.
//
// Get, Set and the Invalidate methods never surface store errors: they log,
// report through Hooks, and return a safe default (miss / false / best-known
// count). A store outage degrades the cache to always-miss; callers keep
// their authoritative fallback path.
type Cache interface {
	// Get returns the cached value for (class, key material), renewing the
	// entry's lease to the class's full TTL on a hit.
	Get(ctx context.Context, class string, key any) (any, bool)

	// Set stores value under (class, key material) and registers it in the
	// class's type index plus any tag indices, all in one atomic batch.
	// Returns false when nothing was stored.
	Set(ctx context.Context, class string, key any, value any, opts ...SetOption) bool

	// InvalidateByTag deletes every entry registered under tag plus the tag
	// index itself, returning the number of entries removed. A tag with no
	// members performs no writes.
	InvalidateByTag(ctx context.Context, tag string) int64

	// InvalidateByType deletes every entry of class and of the classes the
	// dependency graph lists for it - exactly one hop, never transitive -
	// along with their type indices.
	InvalidateByType(ctx context.Context, class string) int64

	// InvalidateByPattern deletes entries whose storage keys match the
	// glob, scanning the keyspace one bounded batch at a time. Patterns are
	// confined to the cache namespace.
	InvalidateByPattern(ctx context.Context, pattern string) int64

	// ClearAll deletes the entire cache namespace (entries, indices,
	// counters) in one server-side operation. Administrative/test use only.
	ClearAll(ctx context.Context) int64

	// Maintenance prunes index references to entries that no longer exist
	// and drops emptied index sets. Run it periodically off the request
	// path; it is safe to run concurrently with any Get/Set.
	Maintenance(ctx context.Context) (int64, error)

	// Stats reports per-class live-key counts, hit/miss counters and hit
	// ratios, plus the store's own memory and expiry counters verbatim.
	Stats(ctx context.Context) (*CacheStats, error)

	// ResetStats zeroes the hit/miss counters. This is the only way they
	// reset.
	ResetStats(ctx context.Context) error

	Enabled() bool
	Close(ctx context.Context) error
}

// Options tune the cache. Only Store is required; others have defaults.
type Options struct {
	// Required.
	Store st.Store

	// Codec serializes values before enveloping. nil => codec.Msgpack.
	Codec c.Codec

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Classes is the per-data-class TTL and compression table. Classes not
	// listed fall back to DefaultPolicy. Supplied as configuration so
	// tuning does not require redeploying the cache engine.
	Classes map[string]ClassPolicy

	// DefaultPolicy applies to unlisted classes. Zero => 1h TTL, no
	// compression.
	DefaultPolicy ClassPolicy

	// Dependents maps a class to the classes invalidated together with it
	// by InvalidateByType. Resolution is exactly one hop.
	Dependents map[string][]string

	// MaintenanceBatch bounds Scan batches during maintenance and pattern
	// invalidation. 0 => 256.
	MaintenanceBatch int64

	// Disabled turns the cache into a pass-through: every Get misses and
	// Set stores nothing.
	Disabled bool
}

// SetOption adjusts a single Set call.
type SetOption func(*setConfig)

type setConfig struct {
	tags []string
	ttl  time.Duration
}

// WithTags attaches invalidation tags to the entry.
func WithTags(tags ...string) SetOption {
	return func(c *setConfig) { c.tags = append(c.tags, tags...) }
}

// WithTTL overrides the class TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(c *setConfig) { c.ttl = ttl }
}

// New builds a Cache from Options.
func New(opts Options) (Cache, error) {
	return newCache(opts)
}
