package tagcache

import (
	"context"
	"strconv"

	"github.com/Feustey/tagcache/internal/keys"
	st "github.com/Feustey/tagcache/store"
)

// ClassStats is the per-data-class slice of a stats report.
type ClassStats struct {
	Keys     int64 // live entries (type-index cardinality)
	Hits     int64
	Misses   int64
	HitRatio float64 // hits / (hits + misses); 0 with no observations
}

// CacheStats is the report returned by Cache.Stats.
type CacheStats struct {
	Classes map[string]ClassStats
	Server  st.ServerInfo // store-reported counters, verbatim
}

// statsCollector keeps monotonically increasing hit/miss counters as
// hash fields in the shared store, one field per data class. Increments are
// atomic store-side, so concurrent callers never lose an update to each
// other; a failed round trip loses at most that one increment, which is
// acceptable for counters (unlike index references).
type statsCollector struct {
	store st.Store
	log   Logger
	hooks Hooks
}

func (s *statsCollector) hit(ctx context.Context, class string) {
	s.incr(ctx, "hits", class)
}

func (s *statsCollector) miss(ctx context.Context, class string) {
	s.incr(ctx, "misses", class)
}

func (s *statsCollector) incr(ctx context.Context, counter, class string) {
	if err := s.store.HIncrBy(ctx, keys.Stats(counter), class, 1); err != nil {
		s.hooks.StatsError(class, err)
		s.log.Debug("stats increment lost", Fields{"counter": counter, "class": class, "err": err})
	}
}

func (s *statsCollector) snapshot(ctx context.Context) (hits, misses map[string]int64, err error) {
	rawHits, err := s.store.HGetAll(ctx, keys.Stats("hits"))
	if err != nil {
		return nil, nil, &StoreError{Op: "hgetall", Cause: err}
	}
	rawMisses, err := s.store.HGetAll(ctx, keys.Stats("misses"))
	if err != nil {
		return nil, nil, &StoreError{Op: "hgetall", Cause: err}
	}
	return parseCounters(rawHits), parseCounters(rawMisses), nil
}

func (s *statsCollector) reset(ctx context.Context) error {
	if _, err := s.store.Del(ctx, keys.Stats("hits"), keys.Stats("misses")); err != nil {
		return &StoreError{Op: "del", Cause: err}
	}
	return nil
}

func parseCounters(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for class, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue // foreign write; counters are store-maintained integers
		}
		out[class] = n
	}
	return out
}

func ratio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
