// Package kioshun adapts github.com/unkn0wn-root/kioshun's in-memory cache
// to provider.Provider, giving local.Tier a genuine library-backed LRU/LFU/
// FIFO eviction policy instead of ristretto's sampled-LFU approximation
// (ristretto's own doc comment admits LRU/FIFO are only approximated) or a
// hand-rolled container/list FIFO. See DESIGN.md's C2 section.
package kioshun

import (
	"context"
	"time"

	pr "github.com/unkn0wn-root/cachemux/provider"
	kc "github.com/unkn0wn-root/kioshun"
)

// Kioshun uses K=string, V=[]byte to satisfy Provider's byte-for-byte
// transparency contract.
type Kioshun struct {
	c *kc.InMemoryCache[string, []byte]
}

var _ pr.Provider = (*Kioshun)(nil)

type Config struct {
	MaxItems               int64             // total item capacity; 0 = unlimited
	ShardCount             int               // 0 = auto (CPU * multiplier)
	Policy                 kc.EvictionPolicy // LRU/LFU/FIFO/AdmissionLFU
	CleanupInterval        time.Duration     // 0 = disable background cleanup
	AdmissionResetInterval time.Duration     // only used by AdmissionLFU
	StatsEnabled           bool
}

// New forces DefaultTTL=0 in kioshun so the per-call TTL local.Tier passes
// to Set is authoritative; local.Tier's own expiry envelope is the
// correctness mechanism regardless, but there's no reason to let kioshun's
// default fight it.
func New(cfg Config) *Kioshun {
	kcfg := kc.Config{
		MaxSize:                cfg.MaxItems,
		ShardCount:             cfg.ShardCount,
		CleanupInterval:        cfg.CleanupInterval,
		DefaultTTL:             0,
		EvictionPolicy:         cfg.Policy,
		StatsEnabled:           cfg.StatsEnabled,
		AdmissionResetInterval: cfg.AdmissionResetInterval,
	}
	return &Kioshun{c: kc.New[string, []byte](kcfg)}
}

func NewWithCache(c *kc.InMemoryCache[string, []byte]) *Kioshun { return &Kioshun{c: c} }

func (p *Kioshun) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set translates ttl<=0 ("no expiry" per provider.Provider's contract) to
// kioshun.NoExpiration. kioshun's Set has no ok result; under AdmissionLFU a
// rejected new key won't exist afterward, so ok is derived from Exists.
func (p *Kioshun) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = kc.NoExpiration
	}
	if err := p.c.Set(key, value, ttl); err != nil {
		return false, err
	}
	return p.c.Exists(key), nil
}

func (p *Kioshun) Del(_ context.Context, key string) error {
	_ = p.c.Delete(key)
	return nil
}

func (p *Kioshun) Close(_ context.Context) error {
	return p.c.Close()
}
