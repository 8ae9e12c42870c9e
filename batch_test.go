package cachemux

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachemux/provider/redis"
	"github.com/unkn0wn-root/cachemux/remote"
)

type batchItem struct {
	ID   int64
	Name string
}

func batchDesc(ns string) *BatchDescriptor {
	return &BatchDescriptor{
		LogicalNames: []string{ns},
		ItemKeyExpr:  "#ids",
		TTL:          time.Minute,
	}
}

func TestInvokeBatchEmptyPivotReturnsEmptySlice(t *testing.T) {
	e := newTestEngine(t)
	bc := BatchCallContext{
		Args:       []any{[]any{}},
		ParamNames: []string{"ids"},
		Descriptor: batchDesc("items"),
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) {
			t.Fatal("bulk loader must not run for an empty pivot")
			return nil, nil
		},
	}
	out, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestInvokeBatchAllMissesCallsLoaderOnceAndMerges(t *testing.T) {
	e := newTestEngine(t)
	var loaderCalls int

	bc := BatchCallContext{
		Args:       []any{[]any{int64(1), int64(2), int64(3)}},
		ParamNames: []string{"ids"},
		Descriptor: batchDesc("items"),
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) {
			loaderCalls++
			out := make([]any, 0, len(missed))
			for _, id := range missed {
				out = append(out, batchItem{ID: id.(int64), Name: "item"})
			}
			return out, nil
		},
	}

	out, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch: %v", err)
	}
	if loaderCalls != 1 {
		t.Fatalf("expected exactly one bulk-loader call, got %d", loaderCalls)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	for i, v := range out {
		item, ok := v.(batchItem)
		if !ok || item.ID != int64(i+1) {
			t.Fatalf("result[%d]: unexpected value %#v", i, v)
		}
	}
}

func TestInvokeBatchPreservesNullIdentifierPositionally(t *testing.T) {
	e := newTestEngine(t)
	bc := BatchCallContext{
		Args:       []any{[]any{int64(1), nil, int64(2)}},
		ParamNames: []string{"ids"},
		Descriptor: batchDesc("items"),
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) {
			if len(missed) != 2 {
				t.Fatalf("expected the null identifier to be excluded from the loader call, got %v", missed)
			}
			out := make([]any, 0, len(missed))
			for _, id := range missed {
				out = append(out, batchItem{ID: id.(int64), Name: "item"})
			}
			return out, nil
		},
	}

	out, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 positions in output, got %d", len(out))
	}
	if out[1] != nil {
		t.Fatalf("expected the null identifier's output position to stay nil, got %#v", out[1])
	}
	if item, ok := out[0].(batchItem); !ok || item.ID != 1 {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if item, ok := out[2].(batchItem); !ok || item.ID != 2 {
		t.Fatalf("unexpected out[2]: %#v", out[2])
	}
}

func TestInvokeBatchKeepsFirstOnDuplicateLoaderIDs(t *testing.T) {
	e := newTestEngine(t)
	bc := BatchCallContext{
		Args:       []any{[]any{int64(1)}},
		ParamNames: []string{"ids"},
		Descriptor: batchDesc("items"),
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) {
			return []any{
				batchItem{ID: 1, Name: "first"},
				batchItem{ID: 1, Name: "second"},
			}, nil
		},
	}

	out, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch: %v", err)
	}
	item, ok := out[0].(batchItem)
	if !ok || item.Name != "first" {
		t.Fatalf("expected the first duplicate to win, got %#v", out[0])
	}
}

func TestInvokeBatchMissingDescriptorFieldsIsConfigError(t *testing.T) {
	e := newTestEngine(t)
	bc := BatchCallContext{
		Args:       []any{[]any{int64(1)}},
		ParamNames: []string{"ids"},
		Descriptor: &BatchDescriptor{LogicalNames: []string{"items"}}, // no ItemKeyExpr
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) { return nil, nil },
	}
	_, err := e.InvokeBatch(context.Background(), bc)
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected a *ConfigError, got %v", err)
	}
}

func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping remote-tier integration test")
	}
	return addr
}

func liveRemoteEngine(t *testing.T) (*Engine, *remote.Tier) {
	t.Helper()
	addr := testRedisAddr(t)
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	p, err := redis.New(redis.Config{Client: client, CloseClient: true})
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	r := remote.New(p)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	if !r.Ping(context.Background()) {
		t.Skip("cannot reach redis, skipping")
	}

	e, err := New(EngineOptions{Remote: r, Config: DefaultConfig(), HealthProbeInterval: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e, r
}

func TestInvokeBatchSecondCallServedFromRemoteSkipsLoader(t *testing.T) {
	e, _ := liveRemoteEngine(t)

	d := batchDesc("items:" + t.Name())
	d.ItemType = batchItem{}

	loaderSeen := map[int64]bool{}
	bc := BatchCallContext{
		Args:       []any{[]any{int64(1), int64(2)}},
		ParamNames: []string{"ids"},
		Descriptor: d,
		BulkLoader: func(ctx context.Context, missed []any) ([]any, error) {
			out := make([]any, 0, len(missed))
			for _, id := range missed {
				loaderSeen[id.(int64)] = true
				out = append(out, batchItem{ID: id.(int64), Name: "loaded"})
			}
			return out, nil
		},
	}

	first, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch (first): %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 results, got %d", len(first))
	}
	if !loaderSeen[1] || !loaderSeen[2] {
		t.Fatalf("expected the first call to miss on both ids: %v", loaderSeen)
	}

	loaderSeen = map[int64]bool{}
	second, err := e.InvokeBatch(context.Background(), bc)
	if err != nil {
		t.Fatalf("InvokeBatch (second): %v", err)
	}
	if len(loaderSeen) != 0 {
		t.Fatalf("expected the second call to be fully served from the remote tier, loader saw %v", loaderSeen)
	}
	for i, v := range second {
		item, ok := v.(batchItem)
		if !ok || item.ID != int64(i+1) {
			t.Fatalf("second[%d]: unexpected value %#v", i, v)
		}
	}
}
