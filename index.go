package tagcache

import (
	"context"
	"time"

	"github.com/Feustey/tagcache/internal/keys"
	st "github.com/Feustey/tagcache/store"
)

// indexManager maintains the tag->keys and class->keys secondary indices.
// Index sets expire at twice the TTL of the entry that registered them, so
// invalidation scans rarely race against natural expiry; whatever does go
// stale is healed by pruneOrphans.
type indexManager struct {
	store st.Store
	log   Logger
	batch int64
}

// register queues the index writes for one entry onto the caller's atomic
// batch: membership plus the 2x TTL extension per index set.
func (m *indexManager) register(b st.Batch, entryKey, class string, tags []string, ttl time.Duration) {
	idxTTL := 2 * ttl
	for _, tag := range tags {
		tk := keys.Tag(tag)
		b.SAdd(tk, entryKey)
		b.Expire(tk, idxTTL)
	}
	yk := keys.Type(class)
	b.SAdd(yk, entryKey)
	b.Expire(yk, idxTTL)
}

func (m *indexManager) keysForTag(ctx context.Context, tag string) ([]string, error) {
	return m.store.SMembers(ctx, keys.Tag(tag))
}

func (m *indexManager) keysForType(ctx context.Context, class string) ([]string, error) {
	return m.store.SMembers(ctx, keys.Type(class))
}

// pruneOrphans walks every tag and type index set, removes references to
// entries no longer in the store, and deletes sets left empty. It returns
// the number of references pruned. Only already-dangling references are
// touched, so it can never delete a live entry no matter what runs
// concurrently; a key deleted between the existence check and the SRem is
// harmless.
func (m *indexManager) pruneOrphans(ctx context.Context) (int64, error) {
	var pruned int64
	for _, pattern := range []string{keys.TagPattern, keys.TypePattern} {
		var cursor uint64
		for {
			sets, next, err := m.store.Scan(ctx, cursor, pattern, m.batch)
			if err != nil {
				return pruned, &StoreError{Op: "scan", Cause: err}
			}
			for _, set := range sets {
				n, err := m.pruneSet(ctx, set)
				pruned += n
				if err != nil {
					return pruned, err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return pruned, nil
}

func (m *indexManager) pruneSet(ctx context.Context, set string) (int64, error) {
	members, err := m.store.SMembers(ctx, set)
	if err != nil {
		return 0, &StoreError{Op: "smembers", Cause: err}
	}

	var dangling []string
	for _, k := range members {
		ok, err := m.store.Exists(ctx, k)
		if err != nil {
			return 0, &StoreError{Op: "exists", Cause: err}
		}
		if !ok {
			dangling = append(dangling, k)
		}
	}
	if len(dangling) == 0 {
		return 0, nil
	}

	if err := m.store.SRem(ctx, set, dangling...); err != nil {
		return 0, &StoreError{Op: "srem", Cause: err}
	}
	m.log.Debug("pruned dangling index references", Fields{"set": set, "count": len(dangling)})

	card, err := m.store.SCard(ctx, set)
	if err != nil {
		return int64(len(dangling)), &StoreError{Op: "scard", Cause: err}
	}
	if card == 0 {
		if _, err := m.store.Del(ctx, set); err != nil {
			return int64(len(dangling)), &StoreError{Op: "del", Cause: err}
		}
	}
	return int64(len(dangling)), nil
}
