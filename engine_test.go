package cachemux

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(EngineOptions{
		Config:              DefaultConfig(),
		HealthProbeInterval: -1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func singleDesc(ns string) *Descriptor {
	return &Descriptor{
		LogicalNames:   []string{ns},
		KeyExpr:        "#id",
		LayerMask:      NewLayerMask(LayerLocal),
		EvictionPolicy: EvictionLRU,
		MaxEntries:     1000,
	}
}

func TestEngineInvokeMemoizesLoaderResult(t *testing.T) {
	e := newTestEngine(t)
	var calls int32

	cc := CallContext{
		Args:       []any{"u1"},
		ParamNames: []string{"id"},
		Descriptor: singleDesc("users"),
		Loader: func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			return map[string]any{"id": "u1"}, nil
		},
	}

	for i := 0; i < 3; i++ {
		v, err := e.Invoke(context.Background(), cc)
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		m, ok := v.(map[string]any)
		if !ok || m["id"] != "u1" {
			t.Fatalf("unexpected result: %#v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected loader to run exactly once, got %d", calls)
	}
}

func TestEngineConditionFalseBypassesCache(t *testing.T) {
	e := newTestEngine(t)
	var calls int32

	d := singleDesc("users")
	d.ConditionExpr = "#id != 'skip'"

	cc := CallContext{
		Args:       []any{"skip"},
		ParamNames: []string{"id"},
		Descriptor: d,
		Loader: func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			return "loaded", nil
		},
	}

	for i := 0; i < 3; i++ {
		v, err := e.Invoke(context.Background(), cc)
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if v != "loaded" {
			t.Fatalf("unexpected result: %#v", v)
		}
	}
	if calls != 3 {
		t.Fatalf("expected every call to bypass the cache and hit the loader, got %d calls", calls)
	}
}

func TestEngineNullResultIsMemoizedWhenCacheNullsEnabled(t *testing.T) {
	e := newTestEngine(t)
	var calls int32

	d := singleDesc("users")
	d.CacheNulls = true

	cc := CallContext{
		Args:       []any{"missing"},
		ParamNames: []string{"id"},
		Descriptor: d,
		Loader: func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		},
	}

	for i := 0; i < 3; i++ {
		v, err := e.Invoke(context.Background(), cc)
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if v != nil {
			t.Fatalf("expected nil result, got %#v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the null result to be memoized, loader ran %d times", calls)
	}
}

func TestEngineResolveTTLPrefersExprOverField(t *testing.T) {
	e := newTestEngine(t)
	d := singleDesc("users")
	d.TTLExpr = "#ttl"
	d.TTLField = "ExpireAt"
	d.TTLRemote = 5 * time.Second

	result := ttlFieldResult{ExpireAt: time.Now().Add(time.Hour).Unix()}
	ttl := e.resolveTTL(d, map[string]any{"ttl": int64(42)}, result)
	if ttl != 42*time.Second {
		t.Fatalf("expected ttl_expr to win, got %v", ttl)
	}
}

func TestEngineResolveTTLFallsBackToRemoteThenDefault(t *testing.T) {
	e := newTestEngine(t)
	d := singleDesc("users")
	d.TTLRemote = 7 * time.Second

	if ttl := e.resolveTTL(d, nil, nil); ttl != 7*time.Second {
		t.Fatalf("expected ttl_remote fallback, got %v", ttl)
	}

	d2 := singleDesc("users")
	if ttl := e.resolveTTL(d2, nil, nil); ttl != e.cfg.DefaultExpire {
		t.Fatalf("expected process default fallback, got %v", ttl)
	}
}

type ttlFieldResult struct {
	ExpireAt int64
}

func TestEngineResolveTTLField(t *testing.T) {
	e := newTestEngine(t)
	d := singleDesc("users")
	d.TTLField = "ExpireAt"

	result := ttlFieldResult{ExpireAt: time.Now().Add(30 * time.Second).Unix()}
	ttl := e.resolveTTL(d, nil, result)
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("expected ttl_field-derived ttl near 30s, got %v", ttl)
	}
}

func TestEngineHotKeySingleFlightCollapsesConcurrentMisses(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	start := make(chan struct{})

	d := singleDesc("hot")
	d.HotKey = true

	cc := CallContext{
		Args:       []any{"k"},
		ParamNames: []string{"id"},
		Descriptor: d,
		Loader: func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			<-start
			time.Sleep(10 * time.Millisecond)
			return "v", nil
		},
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Invoke(context.Background(), cc)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Invoke[%d]: %v", i, errs[i])
		}
		if results[i] != "v" {
			t.Fatalf("Invoke[%d]: got %#v, want v", i, results[i])
		}
	}
	if calls != 1 {
		t.Fatalf("expected singleflight to collapse all concurrent misses into one loader call, got %d", calls)
	}
}

func TestEngineLoaderErrorPropagatesAndIsNotCached(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	failing := true

	cc := CallContext{
		Args:       []any{"u2"},
		ParamNames: []string{"id"},
		Descriptor: singleDesc("users"),
		Loader: func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			if failing {
				return nil, errFakeLoader
			}
			return "recovered", nil
		},
	}

	if _, err := e.Invoke(context.Background(), cc); err != errFakeLoader {
		t.Fatalf("expected loader error to propagate, got %v", err)
	}

	failing = false
	v, err := e.Invoke(context.Background(), cc)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v != "recovered" {
		t.Fatalf("expected the retried call to hit the loader again (nothing cached on error), got %#v", v)
	}
	if calls != 2 {
		t.Fatalf("expected two loader invocations, got %d", calls)
	}
}

type fakeLoaderError struct{}

func (fakeLoaderError) Error() string { return "fake loader failure" }

var errFakeLoader = fakeLoaderError{}
