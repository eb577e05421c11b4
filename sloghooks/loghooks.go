package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/Feustey/tagcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	StatsErrorEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	statsCtr    atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tagcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) SetRejected(class, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.set_rejected",
		"class", class,
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) PartialInvalidation(scope string, removed int64, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tagcache.partial_invalidation",
		"scope", scope,
		"removed", removed,
		"err", err)
}

func (h *Hooks) OrphansPruned(pruned int64) {
	if h.l == nil {
		return
	}
	h.l.Info("tagcache.orphans_pruned",
		"pruned", pruned)
}

func (h *Hooks) StoreError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.store_error",
		"op", op,
		"err", err)
}

func (h *Hooks) StatsError(class string, err error) {
	if h.l == nil || !sample(h.opts.StatsErrorEvery, &h.statsCtr) {
		return
	}
	h.l.Debug("tagcache.stats_error",
		"class", class,
		"err", err)
}
