// Package asynchook wraps a cachemux.Hooks implementation so that every
// callback runs off the caller's goroutine, on a small fixed worker pool
// with a bounded queue. Events are dropped (not blocked on) when the queue
// is full, since hooks are defined to be "cheap and non-blocking" observers,
// never a delivery guarantee.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	engine, _ := cachemux.New(cachemux.EngineOptions{
//	    Hooks: hooks, // or `raw` if async dispatch isn't needed
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/cachemux"
)

type Hooks struct {
	inner cachemux.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ cachemux.Hooks = (*Hooks)(nil)

func New(inner cachemux.Hooks, workers, qlen int) *Hooks {
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

func (h *Hooks) SelfHeal(ns, key, reason string) {
	h.try(func() { h.inner.SelfHeal(ns, key, reason) })
}
func (h *Hooks) ProviderWriteRejected(ns, key, tier string) {
	h.try(func() { h.inner.ProviderWriteRejected(ns, key, tier) })
}
func (h *Hooks) ExpressionError(kind, expr string, err error) {
	h.try(func() { h.inner.ExpressionError(kind, expr, err) })
}
func (h *Hooks) LoaderError(ns, key string, err error) {
	h.try(func() { h.inner.LoaderError(ns, key, err) })
}
func (h *Hooks) HotKeyLeaseError(ns, key string, err error) {
	h.try(func() { h.inner.HotKeyLeaseError(ns, key, err) })
}
func (h *Hooks) HotKeyPollExhausted(ns, key string) {
	h.try(func() { h.inner.HotKeyPollExhausted(ns, key) })
}
func (h *Hooks) RemoteUnavailable(err error) {
	h.try(func() { h.inner.RemoteUnavailable(err) })
}
func (h *Hooks) RemoteRecovered() {
	h.try(func() { h.inner.RemoteRecovered() })
}
func (h *Hooks) PipelineFallback(op string, size int, err error) {
	h.try(func() { h.inner.PipelineFallback(op, size, err) })
}
func (h *Hooks) OversizeKey(ns string, keyLen, max int) {
	h.try(func() { h.inner.OversizeKey(ns, keyLen, max) })
}
