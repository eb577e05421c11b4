package tagcache

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the cache calls them on hot paths. Wrap
// with hooks/async for anything that does IO.
type Hooks interface {
	// An entry was purged on read.
	// reason is one of "corrupt", "class_mismatch", "value_decode".
	SelfHeal(storageKey, reason string)

	// The atomic entry+index batch of a Set failed; nothing was reported
	// as stored.
	SetRejected(class, storageKey string, err error)

	// A bulk delete partially applied; removed is the best-known count.
	PartialInvalidation(scope string, removed int64, err error)

	// A maintenance run removed dangling index references.
	OrphansPruned(pruned int64)

	// A store round trip failed outside the paths above.
	StoreError(op string, err error)

	// A hit/miss counter update was lost. Rare losses are acceptable;
	// sustained ones indicate a store problem.
	StatsError(class string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                  {}
func (NopHooks) SetRejected(string, string, error)        {}
func (NopHooks) PartialInvalidation(string, int64, error) {}
func (NopHooks) OrphansPruned(int64)                      {}
func (NopHooks) StoreError(string, error)                 {}
func (NopHooks) StatsError(string, error)                 {}
