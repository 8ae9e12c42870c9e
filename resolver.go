package cachemux

import (
	"reflect"
	"strings"
	"sync"
)

// Resolved is what a one-time discovery build produces: the descriptor
// (single or batch — exactly one is set) plus the parameter names the
// caller's key/condition/TTL expressions may reference by name.
type Resolved struct {
	Single     *Descriptor
	Batch      *BatchDescriptor
	ParamNames []string
}

// Resolver is the descriptor & parameter-name resolver (C8): an
// insert-once cache keyed by (receiver type, method identity, parameter
// types), so a generated-looking wrapper can rebuild its expression
// strings and reflection-derived parameter names exactly once per method
// rather than on every call (§4.8). Lookup is lock-free on the hot path —
// sync.Map's Load fast path never takes a lock once an entry exists.
type Resolver struct {
	entries sync.Map // string -> *resolverEntry
}

type resolverEntry struct {
	once     sync.Once
	resolved *Resolved
	err      error
}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the memoized Resolved for (receiver, method, paramTypes),
// building it with build on the first call only. Concurrent first calls
// for the same key block on the same sync.Once rather than racing builds.
func (r *Resolver) Resolve(receiver any, method string, paramTypes []reflect.Type, build func() (*Resolved, error)) (*Resolved, error) {
	key := resolveKey(receiver, method, paramTypes)
	v, _ := r.entries.LoadOrStore(key, &resolverEntry{})
	e := v.(*resolverEntry)
	e.once.Do(func() {
		e.resolved, e.err = build()
	})
	return e.resolved, e.err
}

// Forget drops a memoized entry, forcing the next Resolve to rebuild. Rare:
// mainly useful in tests that reconstruct descriptors between cases.
func (r *Resolver) Forget(receiver any, method string, paramTypes []reflect.Type) {
	r.entries.Delete(resolveKey(receiver, method, paramTypes))
}

func resolveKey(receiver any, method string, paramTypes []reflect.Type) string {
	var b strings.Builder
	if receiver != nil {
		b.WriteString(reflect.TypeOf(receiver).String())
	}
	b.WriteByte('|')
	b.WriteString(method)
	for _, t := range paramTypes {
		b.WriteByte('|')
		if t != nil {
			b.WriteString(t.String())
		}
	}
	return b.String()
}

// ParamTypesOf is a small reflection helper for building the paramTypes
// slice Resolve expects from a call's argument values, used by generated-
// looking wrapper helpers that don't otherwise track parameter types.
func ParamTypesOf(args []any) []reflect.Type {
	out := make([]reflect.Type, len(args))
	for i, a := range args {
		if a != nil {
			out[i] = reflect.TypeOf(a)
		}
	}
	return out
}
