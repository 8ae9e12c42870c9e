// Package sloghooks adapts cachemux.Hooks onto log/slog, redacting cache
// keys by default since they often embed user identifiers.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/cachemux"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery       uint64
	PipelineFallbackEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	fallbackCtr  atomic.Uint64
}

var _ cachemux.Hooks = (*Hooks)(nil)

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

func (h *Hooks) SelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("cachemux.self_heal",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) ProviderWriteRejected(ns, key, tier string) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachemux.provider_write_rejected",
		"ns", ns,
		"key", h.redact(key),
		"tier", tier)
}

func (h *Hooks) ExpressionError(kind, expr string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("cachemux.expression_error",
		"kind", kind,
		"expr", expr,
		"err", err)
}

func (h *Hooks) LoaderError(ns, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachemux.loader_error",
		"ns", ns,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) HotKeyLeaseError(ns, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachemux.hot_key_lease_error",
		"ns", ns,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) HotKeyPollExhausted(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("cachemux.hot_key_poll_exhausted",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) RemoteUnavailable(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("cachemux.remote_unavailable", "err", err)
}

func (h *Hooks) RemoteRecovered() {
	if h.l == nil {
		return
	}
	h.l.Info("cachemux.remote_recovered")
}

func (h *Hooks) PipelineFallback(op string, size int, err error) {
	if h.l == nil || !sample(h.opts.PipelineFallbackEvery, &h.fallbackCtr) {
		return
	}
	h.l.Warn("cachemux.pipeline_fallback",
		"op", op,
		"size", size,
		"err", err)
}

func (h *Hooks) OversizeKey(ns string, keyLen, max int) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachemux.oversize_key",
		"ns", ns,
		"key_len", keyLen,
		"max", max)
}
