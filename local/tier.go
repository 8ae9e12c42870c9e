// Package local implements the local tier (C2): a bounded in-process
// key→bytes store with a selectable eviction policy and write-time TTL.
//
// Correctness of "expired entries are absent from Get" cannot be delegated
// to every possible backing Provider — bigcache, for instance, has no
// per-key TTL at all (§4.2 still requires one). Tier therefore prefixes
// every stored value with a small expiry envelope of its own and checks it
// on every Get, regardless of what the backend does internally; the TTL
// passed to Provider.Set is an optimization (letting TTL-aware backends
// reclaim memory early), never the correctness mechanism.
package local

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/unkn0wn-root/cachemux/provider"
	"github.com/unkn0wn-root/cachemux/provider/kioshun"
	"github.com/unkn0wn-root/cachemux/provider/ristretto"
	kc "github.com/unkn0wn-root/kioshun"
)

// Policy mirrors cachemux.EvictionPolicy without importing the root
// package (which itself depends on local), keeping the dependency graph
// acyclic. The engine translates cachemux.EvictionPolicy to this type at
// the tier-construction boundary.
type Policy int

const (
	LRU Policy = iota
	LFU
	FIFO
	Weight
)

// Config parameterizes one namespace's local tier, per §4.2.
type Config struct {
	Policy         Policy
	MaxEntries     int64
	MaxWeightBytes int64

	// Backend overrides the auto-selected provider (e.g. to use bigcache
	// instead of the kioshun/ristretto defaults). Optional.
	Backend provider.Provider
}

// Tier is one namespace's local cache. Safe for concurrent use; the
// concurrency safety is delegated to the backing Provider, which must
// itself be concurrency-safe per the provider package's contract.
type Tier struct {
	backend provider.Provider
	owned   bool // true if Tier created backend and must Close it
}

func New(cfg Config) (*Tier, error) {
	if cfg.Backend != nil {
		return &Tier{backend: cfg.Backend}, nil
	}

	switch cfg.Policy {
	case Weight:
		// kioshun is item-capacity based, not cost-based (see
		// provider/kioshun's Set doc); a byte-weighted budget stays on
		// ristretto, which is cost-aware by design.
		maxCost := cfg.MaxWeightBytes
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		p, err := ristretto.New(ristretto.Config{
			NumCounters: maxCost / 64 * 10,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		return &Tier{backend: p, owned: true}, nil
	default: // LRU, LFU, FIFO: kioshun implements all three natively.
		maxEntries := cfg.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 10_000
		}
		return &Tier{backend: kioshun.New(kioshun.Config{
			MaxItems: maxEntries,
			Policy:   kioshunPolicy(cfg.Policy),
		}), owned: true}, nil
	}
}

// kioshunPolicy maps local.Policy onto kioshun's own eviction-policy enum.
// Weight never reaches here (handled separately, above, on ristretto).
func kioshunPolicy(p Policy) kc.EvictionPolicy {
	switch p {
	case LFU:
		return kc.LFU
	case FIFO:
		return kc.FIFO
	default:
		return kc.LRU
	}
}

// Get returns (bytes, true) on a live hit, (nil, false) on a miss or an
// expired entry (which is evicted eagerly on detection).
func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := t.backend.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	payload, expiresAt, ok := decodeEnvelope(raw)
	if !ok {
		_ = t.backend.Del(ctx, key)
		return nil, false
	}
	if expiresAt != 0 && time.Now().UnixNano() >= expiresAt {
		_ = t.backend.Del(ctx, key)
		return nil, false
	}
	return payload, true
}

// Put stores payload under key with the given TTL (<=0 means no expiry).
// The length of the enveloped value is passed to the backend as the entry's
// cost (only meaningful for WEIGHT).
func (t *Tier) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) bool {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	raw := encodeEnvelope(payload, expiresAt)
	ok, err := t.backend.Set(ctx, key, raw, int64(len(raw)), ttl)
	return err == nil && ok
}

func (t *Tier) Evict(ctx context.Context, key string) {
	_ = t.backend.Del(ctx, key)
}

func (t *Tier) Close(ctx context.Context) error {
	if t.owned {
		return t.backend.Close(ctx)
	}
	return nil
}

// encodeEnvelope/decodeEnvelope prefix an 8-byte big-endian UnixNano
// expiry (0 = never) onto the payload.
func encodeEnvelope(payload []byte, expiresAt int64) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(out[:8], uint64(expiresAt))
	copy(out[8:], payload)
	return out
}

func decodeEnvelope(raw []byte) (payload []byte, expiresAt int64, ok bool) {
	if len(raw) < 8 {
		return nil, 0, false
	}
	return raw[8:], int64(binary.BigEndian.Uint64(raw[:8])), true
}
