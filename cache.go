package tagcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	c "github.com/Feustey/tagcache/codec"
	"github.com/Feustey/tagcache/internal/keys"
	"github.com/Feustey/tagcache/internal/wire"
	st "github.com/Feustey/tagcache/store"
)

const (
	defaultTTL   = time.Hour
	defaultBatch = 256
)

type cache struct {
	store st.Store
	codec c.Codec
	log   Logger
	hooks Hooks

	classes    map[string]ClassPolicy
	fallback   ClassPolicy
	dependents map[string][]string
	batch      int64
	enabled    bool

	index *indexManager
	stats *statsCollector
}

func newCache(opts Options) (*cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tagcache: store is required")
	}
	for class, pol := range opts.Classes {
		if pol.Compression < 0 || pol.Compression > 9 {
			return nil, fmt.Errorf("tagcache: class %q compression level %d out of range [0,9]", class, pol.Compression)
		}
	}

	ca := &cache{
		store:      opts.Store,
		classes:    opts.Classes,
		dependents: opts.Dependents,
		enabled:    !opts.Disabled,
	}

	// defaults
	ca.codec = coalesce[c.Codec](opts.Codec, c.Msgpack{})
	ca.log = coalesce[Logger](opts.Logger, NopLogger{})
	ca.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	ca.batch = coalesce[int64](opts.MaintenanceBatch, defaultBatch)
	ca.fallback = opts.DefaultPolicy
	if ca.fallback.TTL == 0 {
		ca.fallback.TTL = defaultTTL
	}

	ca.index = &indexManager{store: ca.store, log: ca.log, batch: ca.batch}
	ca.stats = &statsCollector{store: ca.store, log: ca.log, hooks: ca.hooks}
	return ca, nil
}

func (ca *cache) Enabled() bool { return ca.enabled }

func (ca *cache) Close(ctx context.Context) error {
	return ca.store.Close(ctx)
}

func (ca *cache) policy(class string) ClassPolicy {
	if pol, ok := ca.classes[class]; ok {
		return pol
	}
	return ca.fallback
}

func (ca *cache) Get(ctx context.Context, class string, key any) (any, bool) {
	if !ca.enabled {
		return nil, false
	}
	k, err := keys.Entry(class, key)
	if err != nil {
		ca.log.Warn("get: key material rejected", Fields{"class": class, "err": err})
		return nil, false
	}

	raw, ok, err := ca.store.Get(ctx, k)
	if err != nil {
		// A failed round trip is an outage, not a definitive miss; leave
		// the miss counter alone.
		ca.hooks.StoreError("get", err)
		ca.log.Warn("get degraded to miss", Fields{"key": k, "err": err})
		return nil, false
	}
	if !ok {
		ca.stats.miss(ctx, class)
		return nil, false
	}

	env, err := wire.Decode(raw)
	if err != nil {
		ca.purge(ctx, k, "corrupt", err)
		ca.stats.miss(ctx, class)
		return nil, false
	}
	if env.Class != class {
		// Digest collision across classes is impossible by key layout;
		// this is a foreign or relocated write.
		ca.purge(ctx, k, "class_mismatch", nil)
		ca.stats.miss(ctx, class)
		return nil, false
	}
	v, err := ca.codec.Decode(env.Payload)
	if err != nil {
		ca.purge(ctx, k, "value_decode", err)
		ca.stats.miss(ctx, class)
		return nil, false
	}

	// Lease renewal: frequently read entries keep the full configured TTL,
	// not whatever remained.
	if _, err := ca.store.Expire(ctx, k, ca.policy(class).TTL); err != nil {
		ca.hooks.StoreError("expire", err)
		ca.log.Debug("lease renewal failed", Fields{"key": k, "err": err})
	}
	ca.stats.hit(ctx, class)
	return v, true
}

// purge deletes an undecodable entry so the next read repopulates cleanly.
func (ca *cache) purge(ctx context.Context, k, reason string, cause error) {
	derr := &DecodingError{Key: k, Cause: cause}
	if _, err := ca.store.Del(ctx, k); err != nil {
		ca.hooks.StoreError("del", err)
	}
	ca.hooks.SelfHeal(k, reason)
	ca.log.Warn("purged undecodable entry", Fields{"key": k, "reason": reason, "err": derr})
}

func (ca *cache) Set(ctx context.Context, class string, key any, value any, opts ...SetOption) bool {
	if !ca.enabled {
		return false
	}
	pol := ca.policy(class)
	cfg := setConfig{ttl: pol.TTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = pol.TTL
	}

	k, err := keys.Entry(class, key)
	if err != nil {
		ca.log.Warn("set rejected", Fields{"class": class, "err": &EncodingError{Class: class, Cause: err}})
		return false
	}
	payload, err := ca.codec.Encode(value)
	if err != nil {
		ca.log.Warn("set rejected", Fields{"key": k, "err": &EncodingError{Class: class, Cause: err}})
		return false
	}
	blob, err := wire.Encode(wire.Envelope{
		Payload:  payload,
		CachedAt: time.Now().Unix(),
		TTL:      int64(cfg.ttl / time.Second),
		Class:    class,
		Tags:     cfg.tags,
	}, pol.Compression)
	if err != nil {
		ca.log.Warn("set rejected", Fields{"key": k, "err": &EncodingError{Class: class, Cause: err}})
		return false
	}

	// Entry and index writes apply all-or-nothing; a partial batch is never
	// reported as success and is left for maintenance to heal.
	b := ca.store.Batch()
	b.Set(k, blob, cfg.ttl)
	ca.index.register(b, k, class, cfg.tags, cfg.ttl)
	if err := b.Exec(ctx); err != nil {
		ca.hooks.SetRejected(class, k, err)
		ca.log.Warn("set batch failed", Fields{"key": k, "err": &StoreError{Op: "batch", Cause: err}})
		return false
	}
	return true
}

func (ca *cache) InvalidateByTag(ctx context.Context, tag string) int64 {
	if !ca.enabled {
		return 0
	}
	members, err := ca.index.keysForTag(ctx, tag)
	if err != nil {
		ca.hooks.StoreError("smembers", err)
		ca.log.Warn("invalidate by tag degraded", Fields{"tag": tag, "err": err})
		return 0
	}
	if len(members) == 0 {
		return 0 // nothing registered; no writes
	}

	removed, err := ca.store.Del(ctx, members...)
	if err != nil {
		perr := &PartialInvalidationError{Scope: "tag:" + tag, Removed: removed, Cause: err}
		ca.hooks.PartialInvalidation(perr.Scope, removed, err)
		ca.log.Warn("partial invalidation", Fields{"err": perr})
		return removed
	}
	if _, err := ca.store.Del(ctx, keys.Tag(tag)); err != nil {
		// The index outlives its members at worst; maintenance prunes it.
		ca.hooks.StoreError("del", err)
		ca.log.Debug("tag index delete failed", Fields{"tag": tag, "err": err})
	}
	ca.log.Debug("invalidated by tag", Fields{"tag": tag, "removed": removed})
	return removed
}

func (ca *cache) InvalidateByType(ctx context.Context, class string) int64 {
	if !ca.enabled {
		return 0
	}
	// Cascade is exactly one hop: the class itself plus its declared
	// dependents, never the dependents' own dependents.
	classes := append([]string{class}, ca.dependents[class]...)

	var entries []string
	idxKeys := make([]string, 0, len(classes))
	seen := make(map[string]struct{})
	for _, dc := range classes {
		members, err := ca.index.keysForType(ctx, dc)
		if err != nil {
			ca.hooks.StoreError("smembers", err)
			ca.log.Warn("type index read failed; continuing cascade", Fields{"class": dc, "err": err})
			continue
		}
		for _, k := range members {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				entries = append(entries, k)
			}
		}
		idxKeys = append(idxKeys, keys.Type(dc))
	}
	if len(entries) == 0 {
		return 0
	}

	removed, err := ca.store.Del(ctx, entries...)
	if err != nil {
		perr := &PartialInvalidationError{Scope: "type:" + class, Removed: removed, Cause: err}
		ca.hooks.PartialInvalidation(perr.Scope, removed, err)
		ca.log.Warn("partial invalidation", Fields{"err": perr})
		return removed
	}
	if _, err := ca.store.Del(ctx, idxKeys...); err != nil {
		ca.hooks.StoreError("del", err)
		ca.log.Debug("type index delete failed", Fields{"class": class, "err": err})
	}
	ca.log.Debug("invalidated by type", Fields{"class": class, "cascade": classes, "removed": removed})
	return removed
}

func (ca *cache) InvalidateByPattern(ctx context.Context, pattern string) int64 {
	if !ca.enabled {
		return 0
	}
	// Confine the glob to the cache namespace so a stray pattern cannot
	// touch foreign keyspaces.
	if !strings.HasPrefix(pattern, keys.Namespace+":") {
		pattern = keys.Namespace + ":" + pattern
	}

	var total int64
	var cursor uint64
	for {
		batch, next, err := ca.store.Scan(ctx, cursor, pattern, ca.batch)
		if err != nil {
			perr := &PartialInvalidationError{Scope: "pattern:" + pattern, Removed: total, Cause: err}
			ca.hooks.PartialInvalidation(perr.Scope, total, err)
			ca.log.Warn("partial invalidation", Fields{"err": perr})
			return total
		}
		if len(batch) > 0 {
			n, err := ca.store.Del(ctx, batch...)
			total += n
			if err != nil {
				perr := &PartialInvalidationError{Scope: "pattern:" + pattern, Removed: total, Cause: err}
				ca.hooks.PartialInvalidation(perr.Scope, total, err)
				ca.log.Warn("partial invalidation", Fields{"err": perr})
				return total
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	ca.log.Debug("invalidated by pattern", Fields{"pattern": pattern, "removed": total})
	return total
}

func (ca *cache) ClearAll(ctx context.Context) int64 {
	if !ca.enabled {
		return 0
	}
	removed, err := ca.store.Clear(ctx, keys.Namespace+":*")
	if err != nil {
		ca.hooks.StoreError("clear", err)
		ca.log.Error("clear all failed", Fields{"err": err})
		return removed
	}
	ca.log.Info("cleared cache namespace", Fields{"removed": removed})
	return removed
}

func (ca *cache) Maintenance(ctx context.Context) (int64, error) {
	if !ca.enabled {
		return 0, nil
	}
	pruned, err := ca.index.pruneOrphans(ctx)
	if pruned > 0 {
		ca.hooks.OrphansPruned(pruned)
	}
	if err != nil {
		ca.hooks.StoreError("maintenance", err)
		ca.log.Warn("maintenance aborted", Fields{"pruned": pruned, "err": err})
		return pruned, err
	}
	ca.log.Debug("maintenance complete", Fields{"pruned": pruned})
	return pruned, nil
}

func (ca *cache) Stats(ctx context.Context) (*CacheStats, error) {
	hits, misses, err := ca.stats.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// Report every class that is configured or has ever been observed.
	classSet := make(map[string]struct{}, len(ca.classes))
	for class := range ca.classes {
		classSet[class] = struct{}{}
	}
	for class := range hits {
		classSet[class] = struct{}{}
	}
	for class := range misses {
		classSet[class] = struct{}{}
	}

	out := &CacheStats{Classes: make(map[string]ClassStats, len(classSet))}
	for class := range classSet {
		live, err := ca.store.SCard(ctx, keys.Type(class))
		if err != nil {
			return nil, &StoreError{Op: "scard", Cause: err}
		}
		h, m := hits[class], misses[class]
		out.Classes[class] = ClassStats{
			Keys:     live,
			Hits:     h,
			Misses:   m,
			HitRatio: ratio(h, m),
		}
	}

	info, err := ca.store.Info(ctx)
	if err != nil {
		// Some backends (and test servers) do not expose INFO; the class
		// counters are still meaningful.
		ca.log.Debug("store info unavailable", Fields{"err": err})
	} else {
		out.Server = info
	}
	return out, nil
}

func (ca *cache) ResetStats(ctx context.Context) error {
	return ca.stats.reset(ctx)
}

var _ Cache = (*cache)(nil)
