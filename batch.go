package cachemux

import (
	"context"
	"reflect"
)

// BatchCallContext is the batch analogue of CallContext (§4.7): the pivot
// collection argument is the entry of Args whose parameter name ItemKeyExpr
// references (see findPivot), and BulkLoader is invoked with exactly the
// missed identifiers, in order.
type BatchCallContext struct {
	Args        []any
	ParamNames  []string
	Descriptor  *BatchDescriptor
	BulkLoader  func(ctx context.Context, missed []any) ([]any, error)
	// IDField names the exported field read off each bulk-loader result to
	// recover its identifier, per §3's "extractable id field" contract.
	IDField string
}

// InvokeBatch is the batch engine (C7): pivot detection, smart per-element
// key projection, pipelined remote multi-get, a single bulk-loader call
// for the misses, pipelined multi-put, and an order-preserving merge.
// Batch never consults or populates the local tier (§4.7).
func (e *Engine) InvokeBatch(ctx context.Context, bc BatchCallContext) ([]any, error) {
	d := bc.Descriptor
	if d == nil || d.Namespace() == "" || d.ItemKeyExpr == "" {
		return nil, &ConfigError{Descriptor: "<batch>", Reason: "missing logical name or item key expression"}
	}

	ns := d.Namespace()
	vars := buildVars(bc.ParamNames, bc.Args)

	pivotName, ids, err := e.findPivot(d, bc.ParamNames, bc.Args)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []any{}, nil
	}

	keys, idOrder := e.projectKeys(d, pivotName, vars, ids)
	if len(idOrder) == 0 {
		return make([]any, len(ids)), nil
	}

	cached := e.bulkRead(ctx, keys)

	missed := make([]any, 0, len(idOrder))
	for _, id := range idOrder {
		if _, ok := cached[id]; !ok {
			missed = append(missed, id)
		}
	}

	fresh := map[any]any{}
	if len(missed) > 0 {
		items, err := bc.BulkLoader(ctx, missed)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			id, ok := extractIDField(item, bc.IDField)
			if !ok {
				continue
			}
			if _, exists := fresh[id]; exists {
				continue // keep first on duplicate ids (§4.7 step 5)
			}
			fresh[id] = item
		}
		e.bulkWrite(ctx, d, keys, fresh)
	}

	out := make([]any, len(ids))
	for i, id := range ids {
		if isNil(id) {
			continue // null identifier: skipped in projection, null in output
		}
		if b, ok := cached[id]; ok {
			if v, isNull, ok := e.decodeEntry(ns, keys[id], b, d.ItemType); ok && !isNull {
				out[i] = v
			}
			continue
		}
		if v, ok := fresh[id]; ok {
			out[i] = v
		}
	}
	return out, nil
}

// findPivot locates the unique collection/array-typed argument referenced
// by item_key_expr (§4.7 step 1) and enumerates its elements in order.
func (e *Engine) findPivot(d *BatchDescriptor, paramNames []string, args []any) (pivotName string, ids []any, err error) {
	for i, name := range paramNames {
		if i >= len(args) {
			continue
		}
		if !e.evaluator.ReferencesVar(d.ItemKeyExpr, name) {
			continue
		}
		rv := reflect.ValueOf(args[i])
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			continue
		}
		n := rv.Len()
		elems := make([]any, n)
		for j := 0; j < n; j++ {
			elems[j] = rv.Index(j).Interface()
		}
		return name, elems, nil
	}
	e.log.Warn("batch item_key_expr references no collection parameter", Fields{"expr": d.ItemKeyExpr})
	return "", nil, nil
}

// projectKeys builds id -> qualified_key by rebinding the pivot variable to
// each element in turn ("smart projection", §4.7 step 2 / §9 note 1). A nil
// element is skipped: it contributes no id->key mapping and is not added to
// idOrder; its output position is kept by the caller through its own ids
// slice. An element whose key expression fails is skipped the same way.
func (e *Engine) projectKeys(d *BatchDescriptor, pivotName string, vars map[string]any, ids []any) (keys map[any]string, idOrder []any) {
	ns := d.Namespace()
	keys = make(map[any]string, len(ids))
	idOrder = make([]any, 0, len(ids))
	for _, id := range ids {
		if isNil(id) {
			continue
		}
		elemVars := cloneVars(vars)
		elemVars[pivotName] = id
		suffix, err := e.evaluator.EvalString(d.ItemKeyExpr, elemVars)
		if err != nil {
			e.hooks.ExpressionError("key", d.ItemKeyExpr, err)
			continue
		}
		keys[id] = ns + "::" + suffix
		idOrder = append(idOrder, id)
	}
	return keys, idOrder
}

func cloneVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// bulkRead is §4.7 step 3: a single pipelined multi-get, falling back to
// per-key gets on pipeline failure (the tier itself signals that via ok).
func (e *Engine) bulkRead(ctx context.Context, keys map[any]string) map[any][]byte {
	out := make(map[any][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}

	all := make([]string, 0, len(keys))
	for _, k := range keys {
		all = append(all, k)
	}

	byKey, ok := e.remote.MultiGetPipelined(ctx, all)
	if !ok {
		e.hooks.PipelineFallback("multi_get", len(all), errPipelineFailed)
		for id, k := range keys {
			if b, hit := e.remote.Get(ctx, k); hit {
				out[id] = b
			}
		}
		return out
	}
	for id, k := range keys {
		if b, hit := byKey[k]; hit {
			out[id] = b
		}
	}
	return out
}

// bulkWrite is §4.7 step 6: encode every fresh item and issue a single
// pipelined multi-put, falling back to per-key puts on pipeline failure.
func (e *Engine) bulkWrite(ctx context.Context, d *BatchDescriptor, keys map[any]string, fresh map[any]any) {
	if len(fresh) == 0 {
		return
	}
	items := make(map[string][]byte, len(fresh))
	for id, item := range fresh {
		key, ok := keys[id]
		if !ok {
			continue
		}
		b, err := e.payload.encode(d.Namespace(), key, item, d.Compress, d.CompressThreshold)
		if err != nil {
			e.log.Warn("batch encode failed, item left uncached", Fields{"ns": d.Namespace(), "key": key, "err": err})
			continue
		}
		items[key] = b
	}

	ttl := d.TTL
	if ttl <= 0 {
		ttl = e.cfg.DefaultExpire
	}
	if e.remote.MultiPutPipelined(ctx, items, ttl) {
		return
	}
	e.hooks.PipelineFallback("multi_put", len(items), errPipelineFailed)
	for key, b := range items {
		e.remote.Put(ctx, key, b, ttl)
	}
}

// extractIDField reads the bulk-loader result's identifier field, per §3's
// "extractable id field" contract on BulkLoader results.
func extractIDField(item any, field string) (any, bool) {
	if field == "" {
		field = "ID"
	}
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f := rv.FieldByName(field)
	if !f.IsValid() {
		return nil, false
	}
	return f.Interface(), true
}

var errPipelineFailed = batchPipelineError{}

type batchPipelineError struct{}

func (batchPipelineError) Error() string { return "remote pipeline operation failed" }
