// Package asynchook decouples hook consumers from tagcache's hot paths.
// Events are dispatched on a bounded queue by a small worker pool; when the
// queue is full, events are dropped rather than blocking a cache call.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tagcache.New(tagcache.Options{
//	    Store: store,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/Feustey/tagcache"
)

type Hooks struct {
	inner tagcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) SetRejected(class, k string, err error) {
	h.try(func() { h.inner.SetRejected(class, k, err) })
}
func (h *Hooks) PartialInvalidation(scope string, removed int64, err error) {
	h.try(func() { h.inner.PartialInvalidation(scope, removed, err) })
}
func (h *Hooks) OrphansPruned(pruned int64)      { h.try(func() { h.inner.OrphansPruned(pruned) }) }
func (h *Hooks) StoreError(op string, err error) { h.try(func() { h.inner.StoreError(op, err) }) }
func (h *Hooks) StatsError(class string, err error) {
	h.try(func() { h.inner.StatsError(class, err) })
}
