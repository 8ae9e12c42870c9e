package cachemux

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/cachemux/bloomfilter"
	"github.com/unkn0wn-root/cachemux/codec"
	"github.com/unkn0wn-root/cachemux/expr"
	"github.com/unkn0wn-root/cachemux/remote"
)

// nullMarkerTTL is the fixed TTL (§4.6a) applied to the memoized-null
// marker, independent of the descriptor's own TTL configuration.
const nullMarkerTTL = 60 * time.Second

// EngineOptions configures an Engine. Every field is optional; a nil
// Remote yields remote.New(nil), the null-object tier (§4.3), so a
// two-tier descriptor degrades to local-only automatically, and the other
// fields fall back to the defaults noted on each.
type EngineOptions struct {
	Remote    *remote.Tier
	Config    Config
	Evaluator expr.Evaluator // nil => &expr.Default{}
	Logger    Logger         // nil => NopLogger{}
	Hooks     Hooks          // nil => NopHooks{}

	// PayloadCodec overrides the codec pipeline's base serializer (§4.1).
	// nil => codec.Msgpack[any]{}. Swap in codec.JSONCodec[any]{} or a
	// codec.CBOR[any] built via codec.NewCBOR for a different wire format;
	// the gzip-threshold compression layer and null-marker handling apply
	// regardless of which base codec is in effect. A non-nil
	// Descriptor.ResultType or BatchDescriptor.ItemType is always decoded
	// with msgpack, whatever the base codec, so typed decoding works only
	// with the msgpack base.
	PayloadCodec codec.Codec[any]

	// HealthProbeInterval drives the background remote.Tier.Ping loop.
	// 0 => 30s. Set to a negative duration to disable the probe entirely
	// (e.g. when Remote is nil and there is nothing to probe).
	HealthProbeInterval time.Duration
}

// Engine is the single-lookup (C6) and batch (C7) read-through engine: it
// composes the tier coordinator (C4), the negative-lookup filter (C5), the
// codec pipeline (C1), and the expression evaluator (C9) behind the
// Invoke/InvokeBatch call shape from §6's interception contract.
type Engine struct {
	cfg       Config
	coord     *coordinator
	remote    *remote.Tier
	filters   *bloomfilter.Registry
	evaluator expr.Evaluator
	payload   *payloadCodec
	log       Logger
	hooks     Hooks
	sf        singleflight.Group

	healthTicker *time.Ticker
	healthStop   chan struct{}
	healthWG     sync.WaitGroup
	healthOnce   sync.Once
	wasAvailable bool
}

// New builds an Engine and, unless disabled, starts its background remote
// health probe — mirroring cas.go's ticker/stopCh/closeWg lifecycle.
func New(opts EngineOptions) (*Engine, error) {
	r := opts.Remote
	if r == nil {
		r = remote.New(nil)
	}
	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	cfg := opts.Config.normalize()
	ev := opts.Evaluator
	if ev == nil {
		ev = &expr.Default{}
	}
	base := opts.PayloadCodec
	if base == nil {
		base = codec.Msgpack[any]{}
	}
	if cfg.MaxPayloadBytes > 0 {
		base = codec.LimitCodec[any]{Inner: base, MaxDecode: cfg.MaxPayloadBytes}
	}

	e := &Engine{
		cfg:       cfg,
		coord:     newCoordinator(r, hooks, cfg.DefaultLocalExpire),
		remote:    r,
		filters:   bloomfilter.NewRegistry(cfg.BloomExpectedInsertions, cfg.BloomFalsePositiveRate),
		evaluator: ev,
		payload: &payloadCodec{
			base:            base,
			maxDecompressed: cfg.MaxPayloadBytes,
			log:             log,
			hooks:           hooks,
		},
		log:   log,
		hooks: hooks,
	}

	probe := opts.HealthProbeInterval
	if probe == 0 {
		probe = 30 * time.Second
	}
	if probe > 0 {
		e.wasAvailable = r.IsAvailable()
		e.healthTicker = time.NewTicker(probe)
		e.healthStop = make(chan struct{})
		e.healthWG.Add(1)
		go e.healthLoop()
	}
	return e, nil
}

func (e *Engine) healthLoop() {
	defer e.healthWG.Done()
	for {
		select {
		case <-e.healthTicker.C:
			ok := e.remote.Ping(context.Background())
			if ok && !e.wasAvailable {
				e.hooks.RemoteRecovered()
			} else if !ok && e.wasAvailable {
				e.hooks.RemoteUnavailable(fmt.Errorf("remote tier: ping failed"))
			}
			e.wasAvailable = ok
		case <-e.healthStop:
			return
		}
	}
}

// Close stops the health probe. Tiers themselves are closed separately by
// whoever constructed their underlying providers/clients.
func (e *Engine) Close() {
	e.healthOnce.Do(func() {
		if e.healthStop != nil {
			close(e.healthStop)
			e.healthWG.Wait()
			e.healthTicker.Stop()
		}
	})
}

// CallContext is the interception contract of §6 made concrete: a
// generated-looking wrapper (or hand-written call site) builds one of
// these per call and hands it to Invoke.
type CallContext struct {
	Args       []any
	ParamNames []string
	Descriptor *Descriptor
	Loader     func(ctx context.Context) (any, error)
}

// Invoke is the single-lookup engine (C6): condition check, key
// derivation, the negative-lookup shield, tier read-through, and on miss,
// hot-key single-flighted regeneration.
func (e *Engine) Invoke(ctx context.Context, cc CallContext) (any, error) {
	d := cc.Descriptor
	if d == nil || d.Namespace() == "" || d.KeyExpr == "" {
		return nil, &ConfigError{Descriptor: "<single>", Reason: "missing logical name or key expression"}
	}

	vars := buildVars(cc.ParamNames, cc.Args)

	if d.ConditionExpr != "" {
		ok, err := e.evaluator.EvalBool(d.ConditionExpr, vars)
		if err != nil {
			e.hooks.ExpressionError("condition", d.ConditionExpr, err)
			return nil, &ExpressionError{Kind: "condition", Expr: d.ConditionExpr, Err: err}
		}
		if !ok {
			return cc.Loader(ctx)
		}
	}

	ns := d.Namespace()
	suffix, err := e.evaluator.EvalString(d.KeyExpr, vars)
	if err != nil {
		e.hooks.ExpressionError("key", d.KeyExpr, err)
		return nil, &ExpressionError{Kind: "key", Expr: d.KeyExpr, Err: err}
	}
	key := ns + "::" + suffix

	if d.MaxKeyBytes > 0 && len(key) > d.MaxKeyBytes {
		if d.RejectOversizeKey {
			return cc.Loader(ctx)
		}
		e.hooks.OversizeKey(ns, len(key), d.MaxKeyBytes)
		e.log.Warn("oversize cache key, proceeding anyway", Fields{"ns": ns, "keyLen": len(key), "max": d.MaxKeyBytes})
	}

	if !d.CacheNulls && !e.filters.MightContain(ns, key) {
		return nil, nil
	}

	if b, ok := e.coord.get(ctx, ns, key, d); ok {
		if v, isNull, ok := e.decodeEntry(ns, key, b, d.ResultType); ok {
			if isNull {
				return nil, nil
			}
			return v, nil
		}
	}

	result, err, _ := e.sf.Do(key, func() (any, error) {
		return e.missPath(ctx, ns, key, d, vars, cc.Loader)
	})
	return result, err
}

// Refresh forces a loader call and write-through regardless of what is
// currently cached, for the scheduled-refresh side of C10: a periodic tick
// must not simply observe its own previous write back from the cache. It
// still applies the condition check, so a refresh tick whose condition now
// evaluates false is skipped rather than forced.
func (e *Engine) Refresh(ctx context.Context, cc CallContext) (any, error) {
	d := cc.Descriptor
	if d == nil || d.Namespace() == "" || d.KeyExpr == "" {
		return nil, &ConfigError{Descriptor: "<single>", Reason: "missing logical name or key expression"}
	}

	vars := buildVars(cc.ParamNames, cc.Args)

	if d.ConditionExpr != "" {
		ok, err := e.evaluator.EvalBool(d.ConditionExpr, vars)
		if err != nil {
			e.hooks.ExpressionError("condition", d.ConditionExpr, err)
			return nil, &ExpressionError{Kind: "condition", Expr: d.ConditionExpr, Err: err}
		}
		if !ok {
			return nil, nil
		}
	}

	ns := d.Namespace()
	suffix, err := e.evaluator.EvalString(d.KeyExpr, vars)
	if err != nil {
		e.hooks.ExpressionError("key", d.KeyExpr, err)
		return nil, &ExpressionError{Kind: "key", Expr: d.KeyExpr, Err: err}
	}
	key := ns + "::" + suffix

	result, err, _ := e.sf.Do(key, func() (any, error) {
		return e.regenerate(ctx, ns, key, d, vars, cc.Loader)
	})
	return result, err
}

// decodeEntry centralizes the null-marker check and decode-as-self-heal
// behavior shared by the read-through path and the hot-key poll loop. ok
// is false when the bytes failed to decode (caller must treat it as a
// miss, per §7's "codec failure on read => treated as miss").
func (e *Engine) decodeEntry(ns, key string, b []byte, hint any) (v any, isNull, ok bool) {
	if bytes.Equal(b, nullMarker) {
		return nil, true, true
	}
	decoded, err := e.payload.decode(b, hint)
	if err != nil {
		e.hooks.SelfHeal(ns, key, err.Error())
		e.log.Warn("decode failed, treating as miss", Fields{"ns": ns, "key": key, "err": err})
		return nil, false, false
	}
	return decoded, false, true
}

// missPath implements the hot-key state machine of §4.6 for a single
// missing key. It runs inside the engine's singleflight group, so exactly
// one goroutine per process executes it for a given key at a time.
func (e *Engine) missPath(ctx context.Context, ns, key string, d *Descriptor, vars map[string]any, loader func(context.Context) (any, error)) (any, error) {
	if d.HotKey && e.remote.IsAvailable() {
		leaseTTL := e.cfg.HotKeyLockTimeout
		if e.remote.TryAcquireLease(ctx, key, leaseTTL) {
			defer e.remote.ReleaseLease(ctx, key)
			return e.regenerate(ctx, ns, key, d, vars, loader)
		}
		return e.pollLoop(ctx, ns, key, d)
	}
	return e.regenerate(ctx, ns, key, d, vars, loader)
}

// pollLoop is the POLL(i) branch of the hot-key state machine: the lease
// loser re-checks the tiers up to HotKeyRetryCount times, sleeping
// HotKeyRetryInterval between attempts, without holding any lock.
func (e *Engine) pollLoop(ctx context.Context, ns, key string, d *Descriptor) (any, error) {
	for i := 0; i < e.cfg.HotKeyRetryCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.HotKeyRetryInterval):
		}
		if b, ok := e.coord.get(ctx, ns, key, d); ok {
			if v, isNull, ok := e.decodeEntry(ns, key, b, d.ResultType); ok {
				if isNull {
					return nil, nil
				}
				return v, nil
			}
		}
	}
	e.hooks.HotKeyPollExhausted(ns, key)
	return nil, nil
}

// regenerate is §4.6a: invoke the loader, then write-through on success.
func (e *Engine) regenerate(ctx context.Context, ns, key string, d *Descriptor, vars map[string]any, loader func(context.Context) (any, error)) (any, error) {
	result, err := loader(ctx)
	if err != nil {
		e.hooks.LoaderError(ns, key, err)
		return nil, err
	}
	if ctx.Err() != nil {
		// The caller was cancelled while the loader ran: hand back its
		// result without writing anything to either tier (§5).
		return result, nil
	}

	if isNil(result) {
		if d.CacheNulls {
			e.coord.put(ctx, ns, key, nullMarker, nullMarkerTTL, nullMarkerTTL, d)
		}
		return nil, nil
	}

	ttl := e.resolveTTL(d, vars, result)
	b, err := e.payload.encode(ns, key, result, d.Compress, d.CompressThreshold)
	if err != nil {
		e.log.Warn("encode failed, returning value uncached", Fields{"ns": ns, "key": key, "err": err})
		return result, nil
	}

	e.filters.Add(ns, key)
	localTTL := d.TTLLocal
	if localTTL <= 0 {
		localTTL = e.cfg.DefaultLocalExpire
	}
	e.coord.put(ctx, ns, key, b, localTTL, ttl, d)
	return result, nil
}

// resolveTTL implements §4.6a's TTL resolution order: ttl_expr, then
// ttl_field (an absolute epoch-seconds field on the result), then
// ttl_remote, then the process-wide default. A resolver step that
// evaluates to <= 0 is skipped, never surfaced as an error (§7).
func (e *Engine) resolveTTL(d *Descriptor, vars map[string]any, result any) time.Duration {
	if d.TTLExpr != "" {
		if v, ok, err := e.evaluator.EvalInt64(d.TTLExpr, vars); err == nil && ok && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if d.TTLField != "" {
		if epoch, ok := extractEpochField(result, d.TTLField); ok {
			if remaining := epoch - time.Now().Unix(); remaining > 0 {
				return time.Duration(remaining) * time.Second
			}
		}
	}
	if d.TTLRemote > 0 {
		return d.TTLRemote
	}
	return e.cfg.DefaultExpire
}

// buildVars exposes each call argument by its parameter name, plus "args"
// bound to the full argument slice, matching §6's expression-language
// contract.
func buildVars(paramNames []string, args []any) map[string]any {
	vars := make(map[string]any, len(paramNames)+1)
	for i, name := range paramNames {
		if i < len(args) {
			vars[name] = args[i]
		}
	}
	vars["args"] = args
	return vars
}
