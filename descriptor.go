package cachemux

import "time"

// Layer is one tier participating in a descriptor's layer_mask.
type Layer uint8

const (
	LayerLocal Layer = 1 << iota
	LayerRemote
)

// LayerMask is a bitset of Layer values; the zero value selects no tier:
// nothing is read from or written to either tier, so the loader runs on
// every call that gets past the condition, key and negative-lookup steps.
type LayerMask uint8

func NewLayerMask(layers ...Layer) LayerMask {
	var m LayerMask
	for _, l := range layers {
		m |= LayerMask(l)
	}
	return m
}

func (m LayerMask) Has(l Layer) bool { return m&LayerMask(l) != 0 }

// EvictionPolicy selects the local tier's bounding strategy. See the C2
// table in SPEC_FULL.md §4.2.
type EvictionPolicy int

const (
	EvictionLRU EvictionPolicy = iota
	EvictionLFU
	EvictionFIFO
	EvictionWeight
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictionLRU:
		return "lru"
	case EvictionLFU:
		return "lfu"
	case EvictionFIFO:
		return "fifo"
	case EvictionWeight:
		return "weight"
	default:
		return "unknown"
	}
}

// Descriptor is the immutable caching policy attached to a single cached
// operation (§3 "Cache descriptor"). Build one per discovered method and
// hand it to Engine.Invoke via a CallContext.
type Descriptor struct {
	LogicalNames []string // LogicalNames[0] is the active namespace

	KeyExpr       string
	ConditionExpr string

	TTLRemote time.Duration
	TTLExpr   string
	TTLField  string
	TTLLocal  time.Duration

	LayerMask LayerMask

	Compress          bool
	CompressThreshold int

	EvictionPolicy EvictionPolicy
	MaxEntries     int64
	MaxWeightBytes int64

	MaxKeyBytes      int
	RejectOversizeKey bool

	CacheNulls bool
	HotKey     bool

	// ResultType is the zero value of the decode target (e.g. User{} or
	// &User{}), read via reflection on a cache hit so decode can unmarshal
	// into the method's actual return type instead of a generic shape. Nil
	// is valid: the value decodes into a generic map/slice/scalar shape.
	ResultType any

	// Preload/Refresh compose additional descriptor kinds onto this one
	// operation, per §9 "Polymorphism over descriptor kinds".
	Preload *PreloadDescriptor
	Refresh *RefreshDescriptor
}

// Namespace is the descriptor's active logical namespace, LogicalNames[0].
func (d *Descriptor) Namespace() string {
	if len(d.LogicalNames) == 0 {
		return ""
	}
	return d.LogicalNames[0]
}

// BatchDescriptor is the policy attached to a batch-cached operation (§3
// "Batch descriptor"). Batch never consults the local tier (§4.7).
type BatchDescriptor struct {
	LogicalNames []string

	ItemKeyExpr string // must reference the pivot collection/array argument
	ItemType    any    // zero value of the decode target, for reflection
	BulkLoader  string // method name on the same receiver

	TTL     time.Duration
	Compress          bool
	CompressThreshold int

	MaxKeyBytes int
}

func (d *BatchDescriptor) Namespace() string {
	if len(d.LogicalNames) == 0 {
		return ""
	}
	return d.LogicalNames[0]
}

// RefreshMode selects the scheduled-refresh strategy (§3 "Refresh descriptor").
type RefreshMode int

const (
	RefreshFull RefreshMode = iota
	// RefreshIncremental is explicitly unspecified upstream (§9 note 3) and
	// rejected at discovery time; it is not implemented here.
	RefreshIncremental
)

// PreloadDescriptor schedules a one-time warm-up call (C10).
type PreloadDescriptor struct {
	Args         []any
	Delay        time.Duration
	RetryCount   int
	RetryInterval time.Duration
	Async        bool
}

// RefreshDescriptor schedules a periodic re-invocation (C10).
type RefreshDescriptor struct {
	Args           []any
	Period         time.Duration
	InitialRefresh bool
	Mode           RefreshMode
}
