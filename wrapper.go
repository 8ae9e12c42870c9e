package cachemux

import (
	"context"
)

// MethodCache is a thin, generated-looking wrapper over Engine + Resolver
// standing in for the annotation/AOP layer real frameworks attach to a
// method (§9's "thin generated-looking wrapper helpers"). A caller builds
// one per cached method, using Discover to resolve its descriptor exactly
// once, and calls Call (or CallBatch) on every invocation instead of
// talking to Engine/Resolver directly.
type MethodCache struct {
	engine   *Engine
	resolver *Resolver
	receiver any
	method   string
}

// NewMethodCache binds a method cache to an engine, a shared resolver, and
// the method identity (receiver + name) the resolver memoizes against.
func NewMethodCache(e *Engine, r *Resolver, receiver any, method string) *MethodCache {
	return &MethodCache{engine: e, resolver: r, receiver: receiver, method: method}
}

// Discover resolves (or, on first call, builds and memoizes) the
// descriptor and parameter names for this method via the shared Resolver,
// keyed on the argument types observed this call (§4.8).
func (m *MethodCache) Discover(args []any, build func() (*Resolved, error)) (*Resolved, error) {
	return m.resolver.Resolve(m.receiver, m.method, ParamTypesOf(args), build)
}

// Call wraps Engine.Invoke: discover the descriptor once, then invoke with
// the per-call arguments and loader. Parameter names are taken from the
// Resolved's ParamNames, which must match args in arity, so a caller never
// has to thread parameter names through every call site.
func (m *MethodCache) Call(ctx context.Context, args []any, build func() (*Resolved, error), loader func(context.Context) (any, error)) (any, error) {
	r, err := m.Discover(args, build)
	if err != nil {
		return nil, err
	}
	if r.Single == nil {
		return loader(ctx)
	}
	return m.engine.Invoke(ctx, CallContext{
		Args:       args,
		ParamNames: r.ParamNames,
		Descriptor: r.Single,
		Loader:     loader,
	})
}

// CallBatch wraps Engine.InvokeBatch the same way Call wraps Invoke.
func (m *MethodCache) CallBatch(ctx context.Context, args []any, build func() (*Resolved, error), bulkLoader func(context.Context, []any) ([]any, error), idField string) ([]any, error) {
	r, err := m.Discover(args, build)
	if err != nil {
		return nil, err
	}
	if r.Batch == nil {
		return nil, &ConfigError{Descriptor: m.method, Reason: "resolved descriptor has no batch policy"}
	}
	return m.engine.InvokeBatch(ctx, BatchCallContext{
		Args:       args,
		ParamNames: r.ParamNames,
		Descriptor: r.Batch,
		BulkLoader: bulkLoader,
		IDField:    idField,
	})
}

// RegisterScheduled registers this method's Preload/Refresh sub-descriptors
// (if any) with s, using the same resolved descriptor Call would use. A
// caller invokes this once at startup per method, after all descriptors
// have been discovered at least once.
func (m *MethodCache) RegisterScheduled(ctx context.Context, s *Scheduler, args []any, build func() (*Resolved, error), loader func(context.Context) (any, error)) error {
	r, err := m.Discover(args, build)
	if err != nil {
		return err
	}
	if r.Single == nil {
		return nil
	}
	cc := CallContext{
		Args:       args,
		ParamNames: r.ParamNames,
		Descriptor: r.Single,
		Loader:     loader,
	}
	if pd := r.Single.Preload; pd != nil {
		if err := s.AddPreload(ctx, m.method, cc, pd); err != nil {
			return err
		}
	}
	if rd := r.Single.Refresh; rd != nil {
		if err := s.AddRefresh(ctx, m.method, cc, rd); err != nil {
			return err
		}
	}
	return nil
}
