// Package cachemux implements a descriptor-driven, two-tier method cache.
//
// Instead of an imperative cache-aside API, callers describe a cached
// operation once as a Descriptor (or BatchDescriptor) and hand the engine a
// deferred loader closure; the engine takes care of key derivation, the
// local/remote tier composition, hot-key single-flighting, and the
// negative-lookup shield. The binding from a real method call to that shape
// is deliberately left to the caller (hand-written wrapper, generated code,
// or a runtime proxy) — the engine itself only ever sees a CallContext.
//
// Components:
//   - Engine: the single-lookup path (Invoke) and the batch path (InvokeBatch).
//   - coordinator: composes the local (C2) and remote (C3) tiers per descriptor.
//   - expr.Evaluator: turns key/condition/TTL expression strings into values.
//   - bloomfilter.Registry: the per-namespace negative-lookup shield.
//
// Keys are of the form "<namespace>::<evaluated-suffix>"; hot-key leases are
// stored at "hot_key_lock:<qualified_key>".
package cachemux
