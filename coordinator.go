package cachemux

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachemux/local"
	"github.com/unkn0wn-root/cachemux/remote"
)

// coordinator is the tier coordinator (C4): composes the local (C2) and
// remote (C3) tiers per descriptor's layer mask, memoizing at most one
// local.Tier instance per namespace (§4.4). Grounded on cas.go's
// per-namespace lazy-construction pattern, generalized from one generation
// map to one local.Tier per namespace.
type coordinator struct {
	remote *remote.Tier
	hooks  Hooks

	// defaultLocalExpire is the same Config.DefaultLocalExpire the engine's
	// own write path (regenerate) coalesces an unset Descriptor.TTLLocal
	// into; get's remote-hit promotion must apply the identical fallback so
	// a promoted entry doesn't become permanent in the local tier just
	// because it arrived via a read instead of a fresh write.
	defaultLocalExpire time.Duration

	mu    sync.Mutex
	local map[string]*local.Tier
}

func newCoordinator(r *remote.Tier, hooks Hooks, defaultLocalExpire time.Duration) *coordinator {
	return &coordinator{remote: r, hooks: hooks, defaultLocalExpire: defaultLocalExpire, local: make(map[string]*local.Tier)}
}

// localTierFor lazily builds the namespace's local.Tier from the first
// descriptor that ever references it. Later descriptors sharing the
// namespace reuse that instance even if their eviction settings differ;
// see DESIGN.md for the first-writer-wins rationale.
func (c *coordinator) localTierFor(ns string, d *Descriptor) (*local.Tier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.local[ns]; ok {
		return t, nil
	}
	t, err := local.New(local.Config{
		Policy:         translatePolicy(d.EvictionPolicy),
		MaxEntries:     d.MaxEntries,
		MaxWeightBytes: d.MaxWeightBytes,
	})
	if err != nil {
		return nil, err
	}
	c.local[ns] = t
	return t, nil
}

func translatePolicy(p EvictionPolicy) local.Policy {
	switch p {
	case EvictionLFU:
		return local.LFU
	case EvictionFIFO:
		return local.FIFO
	case EvictionWeight:
		return local.Weight
	default:
		return local.LRU
	}
}

// get implements §4.4's C4.get: local first, then remote with promotion.
func (c *coordinator) get(ctx context.Context, ns, key string, d *Descriptor) ([]byte, bool) {
	mask := d.LayerMask
	if mask.Has(LayerLocal) {
		lt, err := c.localTierFor(ns, d)
		if err == nil {
			if b, ok := lt.Get(ctx, key); ok {
				return b, true
			}
		}
	}
	if mask.Has(LayerRemote) {
		if b, ok := c.remote.Get(ctx, key); ok {
			if mask.Has(LayerLocal) {
				if lt, err := c.localTierFor(ns, d); err == nil {
					localTTL := d.TTLLocal
					if localTTL <= 0 {
						localTTL = c.defaultLocalExpire
					}
					if !lt.Put(ctx, key, b, localTTL) {
						c.hooks.ProviderWriteRejected(ns, key, "local")
					}
				}
			}
			return b, true
		}
	}
	return nil, false
}

// put writes to each enabled tier, local first, per §4.4. localTTL and
// remoteTTL are resolved independently by the caller (the local tier's TTL
// is never derived from the remote TTL resolution order in §4.6a).
func (c *coordinator) put(ctx context.Context, ns, key string, b []byte, localTTL, remoteTTL time.Duration, d *Descriptor) {
	mask := d.LayerMask
	if mask.Has(LayerLocal) {
		if lt, err := c.localTierFor(ns, d); err == nil {
			if !lt.Put(ctx, key, b, localTTL) {
				c.hooks.ProviderWriteRejected(ns, key, "local")
			}
		}
	}
	if mask.Has(LayerRemote) {
		if !c.remote.Put(ctx, key, b, remoteTTL) {
			c.hooks.ProviderWriteRejected(ns, key, "remote")
		}
	}
}

// evict removes key from each enabled tier.
func (c *coordinator) evict(ctx context.Context, ns, key string, mask LayerMask) {
	if mask.Has(LayerLocal) {
		c.mu.Lock()
		lt := c.local[ns]
		c.mu.Unlock()
		if lt != nil {
			lt.Evict(ctx, key)
		}
	}
	if mask.Has(LayerRemote) {
		c.remote.Evict(ctx, key)
	}
}
