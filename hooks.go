package cachemux

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the engine calls them on hot paths. See
// hooks/async for a wrapper that moves them off the caller's goroutine.
type Hooks interface {
	// A decode/corrupt value was found on read and treated as a miss.
	SelfHeal(namespace, key, reason string)

	// A tier rejected a write (backpressure/eviction/unavailable).
	ProviderWriteRejected(namespace, key, tier string)

	// Key or condition expression evaluation failed. On the single-lookup
	// path the error is also surfaced to the caller; the batch path skips
	// the affected id instead. This hook is purely observational.
	ExpressionError(kind, expr string, err error)

	// The user-supplied loader returned an error; also propagated to the caller.
	LoaderError(namespace, key string, err error)

	// try_acquire_lease/release_lease failed against the remote tier.
	HotKeyLeaseError(namespace, key string, err error)

	// The hot-key poll loop exhausted its retry budget without a hit.
	HotKeyPollExhausted(namespace, key string)

	// The engine's periodic health probe saw the remote tier go down or come
	// back between two consecutive pings; a failing operation on its own
	// does not fire these.
	RemoteUnavailable(err error)
	RemoteRecovered()

	// A pipelined batch operation failed and fell back to per-key ops.
	PipelineFallback(op string, size int, err error)

	// A key exceeded max_key_bytes.
	OversizeKey(namespace string, keyLen, max int)
}

// NopHooks is the default no-op implementation.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string, string)          {}
func (NopHooks) ProviderWriteRejected(string, string, string) {}
func (NopHooks) ExpressionError(string, string, error)    {}
func (NopHooks) LoaderError(string, string, error)        {}
func (NopHooks) HotKeyLeaseError(string, string, error)   {}
func (NopHooks) HotKeyPollExhausted(string, string)       {}
func (NopHooks) RemoteUnavailable(error)                  {}
func (NopHooks) RemoteRecovered()                         {}
func (NopHooks) PipelineFallback(string, int, error)      {}
func (NopHooks) OversizeKey(string, int, int)             {}
