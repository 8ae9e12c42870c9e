package cachemux

import (
	"sync"
	"sync/atomic"
	"testing"
)

type resolverReceiver struct{}

func TestResolverMemoizesAcrossCalls(t *testing.T) {
	r := NewResolver()
	var builds int32

	build := func() (*Resolved, error) {
		atomic.AddInt32(&builds, 1)
		return &Resolved{Single: &Descriptor{LogicalNames: []string{"ns"}}}, nil
	}

	recv := resolverReceiver{}
	types := ParamTypesOf([]any{"id"})

	for i := 0; i < 5; i++ {
		res, err := r.Resolve(recv, "Get", types, build)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.Single.Namespace() != "ns" {
			t.Fatalf("unexpected resolved descriptor: %#v", res)
		}
	}
	if builds != 1 {
		t.Fatalf("expected exactly one build, got %d", builds)
	}
}

func TestResolverConcurrentFirstCallBuildsOnce(t *testing.T) {
	r := NewResolver()
	var builds int32
	build := func() (*Resolved, error) {
		atomic.AddInt32(&builds, 1)
		return &Resolved{Single: &Descriptor{LogicalNames: []string{"ns"}}}, nil
	}

	recv := resolverReceiver{}
	types := ParamTypesOf([]any{42})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(recv, "Get", types, build); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if builds != 1 {
		t.Fatalf("expected exactly one build under concurrency, got %d", builds)
	}
}

func TestResolverDistinguishesParamTypes(t *testing.T) {
	r := NewResolver()
	recv := resolverReceiver{}

	_, err := r.Resolve(recv, "Get", ParamTypesOf([]any{"s"}), func() (*Resolved, error) {
		return &Resolved{Single: &Descriptor{LogicalNames: []string{"string-variant"}}}, nil
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res, err := r.Resolve(recv, "Get", ParamTypesOf([]any{42}), func() (*Resolved, error) {
		return &Resolved{Single: &Descriptor{LogicalNames: []string{"int-variant"}}}, nil
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Single.Namespace() != "int-variant" {
		t.Fatalf("expected distinct param types to build distinct entries, got %q", res.Single.Namespace())
	}
}

func TestResolverForgetRebuilds(t *testing.T) {
	r := NewResolver()
	recv := resolverReceiver{}
	types := ParamTypesOf([]any{"id"})
	var builds int32
	build := func() (*Resolved, error) {
		n := atomic.AddInt32(&builds, 1)
		return &Resolved{Single: &Descriptor{LogicalNames: []string{string(rune('a' + n - 1))}}}, nil
	}

	if _, err := r.Resolve(recv, "Get", types, build); err != nil {
		t.Fatal(err)
	}
	r.Forget(recv, "Get", types)
	if _, err := r.Resolve(recv, "Get", types, build); err != nil {
		t.Fatal(err)
	}
	if builds != 2 {
		t.Fatalf("expected Forget to force a rebuild, got %d builds", builds)
	}
}
