package tagcache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Feustey/tagcache/internal/keys"
	storeredis "github.com/Feustey/tagcache/store/redis"
)

func testClasses() map[string]ClassPolicy {
	return map[string]ClassPolicy{
		"metrics":    {TTL: 10 * time.Minute, Compression: 0},
		"documents":  {TTL: time.Hour, Compression: 6},
		"responses":  {TTL: 30 * time.Minute, Compression: 6},
		"embeddings": {TTL: 24 * time.Hour, Compression: 1},
		"summaries":  {TTL: time.Hour, Compression: 6},
	}
}

func testDependents() map[string][]string {
	return map[string][]string{
		"responses": {"documents", "embeddings"},
		"documents": {"summaries"}, // two hops away from "responses"
	}
}

func newTestCache(t *testing.T, optFn func(*Options)) (*cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	st, err := storeredis.New(storeredis.Config{Client: client, CloseClient: true})
	require.NoError(t, err)

	opts := Options{
		Store:      st,
		Classes:    testClasses(),
		Dependents: testDependents(),
	}
	if optFn != nil {
		optFn(&opts)
	}
	cc, err := New(opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cc.Close(context.Background())
		mr.Close()
	})
	return cc.(*cache), mr
}

func entryKey(t *testing.T, class string, material any) string {
	t.Helper()
	k, err := keys.Entry(class, material)
	require.NoError(t, err)
	return k
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewRejectsBadCompressionLevel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	st, err := storeredis.New(storeredis.Config{
		Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
	})
	require.NoError(t, err)

	_, err = New(Options{
		Store:   st,
		Classes: map[string]ClassPolicy{"documents": {TTL: time.Minute, Compression: 12}},
	})
	assert.Error(t, err)
}

func TestSetGetConsistency(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	ok := cc.Set(ctx, "metrics", "node123", map[string]any{"score": 42}, WithTags("daily"))
	require.True(t, ok)

	got, hit := cc.Get(ctx, "metrics", "node123")
	require.True(t, hit)
	m, isMap := got.(map[string]any)
	require.True(t, isMap, "decoded type = %T", got)
	assert.Equal(t, int64(42), m["score"])

	// The entry is registered in both indices.
	k := entryKey(t, "metrics", "node123")
	tagged, err := cc.index.keysForTag(ctx, "daily")
	require.NoError(t, err)
	assert.Contains(t, tagged, k)
	typed, err := cc.index.keysForType(ctx, "metrics")
	require.NoError(t, err)
	assert.Contains(t, typed, k)

	// Entry carries the class TTL; indices outlive it at 2x.
	assert.Equal(t, 10*time.Minute, mr.TTL(k))
	assert.Equal(t, 20*time.Minute, mr.TTL(keys.Tag("daily")))
	assert.Equal(t, 20*time.Minute, mr.TTL(keys.Type("metrics")))
}

func TestSetHonorsTTLOverride(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "node123", 1, WithTTL(600*time.Second)))
	k := entryKey(t, "metrics", "node123")
	assert.Equal(t, 600*time.Second, mr.TTL(k))
	assert.Equal(t, 1200*time.Second, mr.TTL(keys.Type("metrics")))
}

func TestUnknownClassUsesDefaultPolicy(t *testing.T) {
	cc, mr := newTestCache(t, func(o *Options) {
		o.DefaultPolicy = ClassPolicy{TTL: 3 * time.Minute}
	})
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "user_data", "u1", "v"))
	assert.Equal(t, 3*time.Minute, mr.TTL(entryKey(t, "user_data", "u1")))
}

func TestStructuredKeyMaterialAddressesSameEntry(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "responses",
		map[string]any{"q": "fees", "top": 5}, "answer"))

	// Same material, different map ordering at the call site.
	got, hit := cc.Get(ctx, "responses", map[string]any{"top": 5, "q": "fees"})
	require.True(t, hit)
	assert.Equal(t, "answer", got)
}

func TestRejectedKeyMaterial(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	type opaque struct{ X int }
	assert.False(t, cc.Set(ctx, "metrics", opaque{1}, "v"))
	if _, hit := cc.Get(ctx, "metrics", opaque{1}); hit {
		t.Fatal("unsupported key material must miss")
	}
	assert.Empty(t, mr.Keys(), "nothing may be written for rejected material")
}

func TestLeaseRenewalRestoresFullTTL(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "node123", map[string]any{"score": 42}))
	k := entryKey(t, "metrics", "node123")

	mr.FastForward(4 * time.Minute)
	require.Equal(t, 6*time.Minute, mr.TTL(k), "TTL should have drained")

	_, hit := cc.Get(ctx, "metrics", "node123")
	require.True(t, hit)
	assert.Equal(t, 10*time.Minute, mr.TTL(k),
		"a hit must reset the lease to the full configured TTL, not extend the remainder")
}

func TestSelfHealOnCorruptEntry(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	k := entryKey(t, "metrics", "bad")
	require.NoError(t, mr.Set(k, "not-an-envelope"))

	_, hit := cc.Get(ctx, "metrics", "bad")
	assert.False(t, hit, "corrupt entry must read as a miss")
	assert.False(t, mr.Exists(k), "corrupt entry must be purged")

	stats, err := cc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Classes["metrics"].Misses)
}

func TestInvalidateByTag(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "n1", 1, WithTags("daily")))
	require.True(t, cc.Set(ctx, "documents", "d1", "doc", WithTags("daily")))
	require.True(t, cc.Set(ctx, "documents", "d2", "doc", WithTags("weekly")))

	removed := cc.InvalidateByTag(ctx, "daily")
	assert.Equal(t, int64(2), removed)

	if _, hit := cc.Get(ctx, "metrics", "n1"); hit {
		t.Fatal("tagged entry survived invalidation")
	}
	if _, hit := cc.Get(ctx, "documents", "d2"); !hit {
		t.Fatal("entry under another tag must survive")
	}
	assert.False(t, mr.Exists(keys.Tag("daily")), "tag index itself must be deleted")

	// Idempotence: the second call finds no members and performs no writes.
	assert.Zero(t, cc.InvalidateByTag(ctx, "daily"))
	members, err := cc.index.keysForTag(ctx, "daily")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestInvalidateByTypeOneHopCascade(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "responses", "r1", "resp"))
	require.True(t, cc.Set(ctx, "documents", "d1", "doc"))
	require.True(t, cc.Set(ctx, "embeddings", "e1", []any{0.1, 0.2}))
	require.True(t, cc.Set(ctx, "summaries", "s1", "sum"))
	require.True(t, cc.Set(ctx, "metrics", "m1", 1))

	removed := cc.InvalidateByType(ctx, "responses")
	assert.Equal(t, int64(3), removed, "responses + its two declared dependents")

	for _, probe := range []struct {
		class, key string
	}{
		{"responses", "r1"}, {"documents", "d1"}, {"embeddings", "e1"},
	} {
		if _, hit := cc.Get(ctx, probe.class, probe.key); hit {
			t.Fatalf("%s/%s survived cascade", probe.class, probe.key)
		}
	}

	// One hop only: "summaries" depends on "documents", which is one hop
	// from "responses" - it must NOT be cascaded into.
	if _, hit := cc.Get(ctx, "summaries", "s1"); !hit {
		t.Fatal("two-hop dependent must survive")
	}
	if _, hit := cc.Get(ctx, "metrics", "m1"); !hit {
		t.Fatal("unrelated class must survive")
	}

	assert.False(t, mr.Exists(keys.Type("responses")))
	assert.False(t, mr.Exists(keys.Type("documents")))
	assert.True(t, mr.Exists(keys.Type("summaries")))
}

func TestInvalidateByTypeWithoutEntries(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	assert.Zero(t, cc.InvalidateByType(context.Background(), "metrics"))
}

func TestInvalidateByPattern(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	ctx := context.Background()

	for _, n := range []string{"n1", "n2", "n3"} {
		require.True(t, cc.Set(ctx, "metrics", n, 1))
	}
	require.True(t, cc.Set(ctx, "documents", "d1", "doc"))

	// Glob is confined to the cache namespace; both spellings work.
	removed := cc.InvalidateByPattern(ctx, "metrics:*")
	assert.Equal(t, int64(3), removed)
	if _, hit := cc.Get(ctx, "documents", "d1"); !hit {
		t.Fatal("pattern must not touch other classes")
	}

	removed = cc.InvalidateByPattern(ctx, "cache:documents:*")
	assert.Equal(t, int64(1), removed)
}

func TestInvalidateByPatternScansInBoundedBatches(t *testing.T) {
	cc, _ := newTestCache(t, func(o *Options) {
		o.MaintenanceBatch = 2
	})
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.True(t, cc.Set(ctx, "metrics", map[string]any{"i": i}, i))
	}
	assert.Equal(t, int64(25), cc.InvalidateByPattern(ctx, "metrics:*"))
}

func TestClearAll(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "n1", 1, WithTags("daily")))
	require.True(t, cc.Set(ctx, "documents", "d1", "doc"))
	cc.Get(ctx, "metrics", "n1") // creates a stats key too
	require.NoError(t, mr.Set("other:keep", "x"))

	removed := cc.ClearAll(ctx)
	assert.Greater(t, removed, int64(0))

	for _, k := range mr.Keys() {
		assert.False(t, strings.HasPrefix(k, "cache:"), "leftover cache key %q", k)
	}
	assert.True(t, mr.Exists("other:keep"), "foreign keys must survive")
}

func TestMaintenancePrunesOrphans(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "live", 1, WithTags("daily")))
	require.True(t, cc.Set(ctx, "metrics", "dead", 2, WithTags("daily")))

	deadKey := entryKey(t, "metrics", "dead")
	liveKey := entryKey(t, "metrics", "live")
	mr.Del(deadKey) // simulate natural expiry ahead of the index's 2x TTL

	pruned, err := cc.Maintenance(ctx)
	require.NoError(t, err)
	// One dangling reference in the tag set, one in the type set.
	assert.Equal(t, int64(2), pruned)

	tagged, err := cc.index.keysForTag(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, []string{liveKey}, tagged)

	// Nothing left dangling: a second run is a no-op.
	pruned, err = cc.Maintenance(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestMaintenanceDeletesEmptiedIndexSets(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "only", 1, WithTags("daily")))
	mr.Del(entryKey(t, "metrics", "only"))

	_, err := cc.Maintenance(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists(keys.Tag("daily")))
	assert.False(t, mr.Exists(keys.Type("metrics")))
}

func TestMaintenanceSafeAgainstConcurrentWriters(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = cc.Maintenance(ctx)
			}
		}
	}()

	const writers, perWriter = 4, 50
	keysWritten := make([][]string, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				material := map[string]any{"w": w, "i": i}
				if cc.Set(ctx, "metrics", material, i, WithTags("churn")) {
					k, _ := keys.Entry("metrics", material)
					keysWritten[w] = append(keysWritten[w], k)
				}
				cc.Get(ctx, "metrics", material)
			}
		}(w)
	}

	// Let maintenance overlap the writers, then stop it.
	time.Sleep(50 * time.Millisecond)
	wgWait := make(chan struct{})
	go func() { wg.Wait(); close(wgWait) }()
	close(stop)
	<-wgWait

	// Maintenance must never have removed a reference to a live entry.
	typed, err := cc.index.keysForType(ctx, "metrics")
	require.NoError(t, err)
	indexed := make(map[string]bool, len(typed))
	for _, k := range typed {
		indexed[k] = true
	}
	for w := range keysWritten {
		for _, k := range keysWritten[w] {
			ok, err := cc.store.Exists(ctx, k)
			require.NoError(t, err)
			if ok {
				assert.True(t, indexed[k], "live key %s lost its index reference", k)
			}
		}
	}
}

func TestStatsReport(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "n1", 1))
	cc.Get(ctx, "metrics", "n1")      // hit
	cc.Get(ctx, "metrics", "absent")  // miss
	cc.Get(ctx, "metrics", "absent2") // miss

	stats, err := cc.Stats(ctx)
	require.NoError(t, err)

	ms := stats.Classes["metrics"]
	assert.Equal(t, int64(1), ms.Keys)
	assert.Equal(t, int64(1), ms.Hits)
	assert.Equal(t, int64(2), ms.Misses)
	assert.InDelta(t, 1.0/3.0, ms.HitRatio, 1e-9)

	// Configured classes with no observations report zeros.
	ds := stats.Classes["documents"]
	assert.Zero(t, ds.Hits)
	assert.Zero(t, ds.Misses)
	assert.Zero(t, ds.HitRatio)

	require.NoError(t, cc.ResetStats(ctx))
	stats, err = cc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Classes["metrics"].Hits)
	assert.Zero(t, stats.Classes["metrics"].Misses)
	assert.Equal(t, int64(1), stats.Classes["metrics"].Keys,
		"resetting counters must not touch entries")
}

func TestStatsConcurrentCountersLoseNothing(t *testing.T) {
	cc, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "hot", 1))

	const goroutines, perG = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				cc.Get(ctx, "metrics", "hot")    // hit
				cc.Get(ctx, "metrics", "absent") // miss
			}
		}()
	}
	wg.Wait()

	stats, err := cc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perG), stats.Classes["metrics"].Hits)
	assert.Equal(t, int64(goroutines*perG), stats.Classes["metrics"].Misses)
}

func TestDisabledCacheIsInert(t *testing.T) {
	cc, mr := newTestCache(t, func(o *Options) { o.Disabled = true })
	ctx := context.Background()

	assert.False(t, cc.Set(ctx, "metrics", "n1", 1))
	if _, hit := cc.Get(ctx, "metrics", "n1"); hit {
		t.Fatal("disabled cache must miss")
	}
	assert.Zero(t, cc.InvalidateByTag(ctx, "daily"))
	assert.Zero(t, cc.InvalidateByType(ctx, "metrics"))
	assert.Zero(t, cc.ClearAll(ctx))
	assert.Empty(t, mr.Keys())
	assert.False(t, cc.Enabled())
}

func TestStoreOutageDegradesToSafeDefaults(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "n1", 1, WithTags("daily")))
	mr.Close() // outage

	if _, hit := cc.Get(ctx, "metrics", "n1"); hit {
		t.Fatal("outage must degrade to miss")
	}
	assert.False(t, cc.Set(ctx, "metrics", "n2", 2))
	assert.Zero(t, cc.InvalidateByTag(ctx, "daily"))
	assert.Zero(t, cc.InvalidateByPattern(ctx, "metrics:*"))
	assert.Zero(t, cc.ClearAll(ctx))

	_, err := cc.Maintenance(ctx)
	assert.Error(t, err, "maintenance reports store failures")
	_, err = cc.Stats(ctx)
	assert.Error(t, err)
}

// The end-to-end flow from the package documentation: write, hit with a
// fresh lease, group-invalidate, miss.
func TestEndToEnd(t *testing.T) {
	cc, mr := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, cc.Set(ctx, "metrics", "node123",
		map[string]any{"score": 42}, WithTags("daily"), WithTTL(600*time.Second)))

	got, hit := cc.Get(ctx, "metrics", "node123")
	require.True(t, hit)
	assert.Equal(t, int64(42), got.(map[string]any)["score"])
	assert.Equal(t, 600*time.Second, mr.TTL(entryKey(t, "metrics", "node123")),
		"hit resets expiry to the configured TTL")

	assert.Equal(t, int64(1), cc.InvalidateByTag(ctx, "daily"))

	if _, hit := cc.Get(ctx, "metrics", "node123"); hit {
		t.Fatal("entry must be gone after tag invalidation")
	}
}
