package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
)

type Provider struct {
	c *rc.Cache
}

// Config mirrors ristretto's own tuning knobs. local.Tier uses this as the
// backend for the WEIGHT eviction policy (§4.2) only: cost=len(bytes),
// bounded by MaxCost=MaxWeightBytes. LRU/LFU/FIFO are handled natively by
// provider/kioshun instead — ristretto's own eviction is a sampled-LFU
// variant with TinyLFU admission, so using it for those policies would only
// ever approximate them, in the same spirit as the Java source's
// Caffeine-backed LocalCache, whose LFU/FIFO cases were themselves mostly
// cosmetic config tweaks rather than distinct algorithms.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0 // non-positive TTL means "no expiry"; ristretto drops negative TTLs
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	// SetWithTTL only buffers the write; Wait makes it visible to the next Get.
	p.c.Wait()
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Helper to expose metrics if desired by the application (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
