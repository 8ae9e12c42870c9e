// Package bloomfilter implements the negative-lookup shield (C5): a
// per-namespace approximate-membership set that lets the engine reject
// keys it has never observed as present, without a round-trip to either
// tier. Grounded on BloomFilterUtils.java's per-cacheName filter registry,
// using github.com/bits-and-blooms/bloom/v3 since the reference pack
// carries no bloom-filter package of its own (see DESIGN.md).
package bloomfilter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// entry pairs one namespace's filter with its own mutex. bloom.BloomFilter
// is not internally synchronized, so every AddString/TestString call on it
// must be serialized by something outside the library — the registry's own
// mutex only ever protects the map, not the filter's bitset, so each entry
// carries the lock it needs (§4.5 "All operations are concurrency-safe
// without external locking").
type entry struct {
	mu sync.Mutex
	f  *bloom.BloomFilter
}

// Registry lazily creates one filter per namespace, sized by the two
// construction parameters from the §6 configuration surface.
type Registry struct {
	expectedInsertions uint
	falsePositiveRate  float64

	mu      sync.RWMutex
	filters map[string]*entry
}

func NewRegistry(expectedInsertions uint, falsePositiveRate float64) *Registry {
	return &Registry{
		expectedInsertions: expectedInsertions,
		falsePositiveRate:  falsePositiveRate,
		filters:            make(map[string]*entry),
	}
}

func (r *Registry) entryFor(ns string) *entry {
	r.mu.RLock()
	e := r.filters[ns]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.filters[ns]; e != nil {
		return e
	}
	e = &entry{f: bloom.NewWithEstimates(r.expectedInsertions, r.falsePositiveRate)}
	r.filters[ns] = e
	return e
}

// Add records key as present in namespace ns.
func (r *Registry) Add(ns, key string) {
	e := r.entryFor(ns)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.f.AddString(key)
}

// MightContain reports whether key may be present in namespace ns. Per
// SPEC_FULL.md §4.5, a namespace with no filter yet behaves as "might
// contain everything" — it cannot short-circuit a lookup it has never been
// told about. This deliberately diverges from BloomFilterUtils.java (which
// fails closed on an absent filter); see DESIGN.md for the rationale.
func (r *Registry) MightContain(ns, key string) bool {
	r.mu.RLock()
	e := r.filters[ns]
	r.mu.RUnlock()
	if e == nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.TestString(key)
}

// Clear removes the filter for ns entirely; a subsequent MightContain call
// for that namespace reverts to "might contain everything" until the next Add.
func (r *Registry) Clear(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filters, ns)
}
