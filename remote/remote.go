// Package remote implements the remote tier (C3): an optional,
// health-tracked external key→bytes store with pipelined batch I/O and
// lease primitives for the hot-key single-flight protocol.
//
// When constructed with no client, Tier behaves as a null object exactly
// like the source's NoOpRemoteCache: is_available() is permanently false,
// reads yield nothing, writes/evicts are no-ops, and leases can never be
// acquired. This lets C4 and C6 treat "no remote configured" and "remote
// down" identically, with no separate code path.
package remote

import (
	"context"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachemux/provider/redis"
)

// leasePrefix mirrors §6's "hot_key_lock:<qualified_key>" lease key format.
const leasePrefix = "hot_key_lock:"
const leaseValue = "1"

// Tier wraps a redis.Redis (or any goredis.UniversalClient) with the
// health-flag behavior of the source's RemoteCache: every operation checks
// availability first and flips it on transport error, rather than retrying
// or blocking callers on a down backend.
type Tier struct {
	client    goredis.UniversalClient
	provider  *redis.Redis
	available atomic.Bool
}

// New wraps an existing provider.Provider-shaped redis.Redis. Passing a nil
// provider yields a null-object Tier (is_available() always false).
func New(p *redis.Redis) *Tier {
	t := &Tier{provider: p}
	if p != nil {
		t.client = p.Client()
		t.available.Store(true)
	}
	return t
}

// IsAvailable reports the last-observed health state.
func (t *Tier) IsAvailable() bool {
	return t.client != nil && t.available.Load()
}

// Ping actively probes the backend and updates availability accordingly.
// Intended to be called periodically by the engine's background health
// loop, mirroring checkHealth() in the source.
func (t *Tier) Ping(ctx context.Context) bool {
	if t.client == nil {
		t.available.Store(false)
		return false
	}
	err := t.client.Ping(ctx).Err()
	ok := err == nil
	t.available.Store(ok)
	return ok
}

func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool) {
	if !t.IsAvailable() {
		return nil, false
	}
	b, ok, err := t.provider.Get(ctx, key)
	if err != nil {
		t.available.Store(false)
		return nil, false
	}
	return b, ok
}

func (t *Tier) Put(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !t.IsAvailable() {
		return false
	}
	ok, err := t.provider.Set(ctx, key, value, int64(len(value)), ttl)
	if err != nil {
		t.available.Store(false)
		return false
	}
	return ok
}

func (t *Tier) Evict(ctx context.Context, key string) {
	if !t.IsAvailable() {
		return
	}
	if err := t.provider.Del(ctx, key); err != nil {
		t.available.Store(false)
	}
}

// MultiGetPipelined fetches every key in one round-trip via an MGET
// pipeline, mirroring the teacher's RedisGenStore.SnapshotMany batching and
// the source's pipelineMget. Missing keys are simply absent from the
// returned map. ok is false when the pipeline itself failed (transport
// error); callers must fall back to per-key Get in that case.
func (t *Tier) MultiGetPipelined(ctx context.Context, keys []string) (map[string][]byte, bool) {
	if !t.IsAvailable() || len(keys) == 0 {
		return map[string][]byte{}, len(keys) == 0
	}
	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		t.available.Store(false)
		return nil, false
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
			// miss
		case string:
			out[keys[i]] = []byte(vv)
		case []byte:
			out[keys[i]] = vv
		}
	}
	return out, true
}

// MultiPutPipelined writes every item in one round-trip via a SET pipeline.
// ok is false when the pipeline itself failed; callers must fall back to
// per-key Put in that case.
func (t *Tier) MultiPutPipelined(ctx context.Context, items map[string][]byte, ttl time.Duration) bool {
	if !t.IsAvailable() || len(items) == 0 {
		return len(items) == 0
	}
	_, err := t.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for k, v := range items {
			p.Set(ctx, k, v, ttl)
		}
		return nil
	})
	if err != nil {
		t.available.Store(false)
		return false
	}
	return true
}

// TryAcquireLease is a single-shot SET-if-absent with TTL: it returns true
// iff the caller now holds the lease named by key. Mirrors §4.3's
// try_acquire_lease contract; implemented directly on the client since
// provider.Provider has no compare-and-set primitive.
func (t *Tier) TryAcquireLease(ctx context.Context, key string, ttl time.Duration) bool {
	if !t.IsAvailable() {
		return false
	}
	ok, err := t.client.SetNX(ctx, leasePrefix+key, leaseValue, ttl).Result()
	if err != nil {
		t.available.Store(false)
		return false
	}
	return ok
}

// ReleaseLease deletes the lease sentinel unconditionally. Must only be
// called by the lease holder.
func (t *Tier) ReleaseLease(ctx context.Context, key string) {
	if !t.IsAvailable() {
		return
	}
	if err := t.client.Del(ctx, leasePrefix+key).Err(); err != nil {
		t.available.Store(false)
	}
}

func (t *Tier) Close(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Close(ctx)
}
