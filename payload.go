package cachemux

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/cachemux/codec"
)

// nullMarker is the reserved single-byte payload denoting a memoized null
// result (§3 "Cache entry", §4.1). Disjointness from encode's output does
// NOT hold by appealing to the base codec's encoding of any particular
// value — msgpack's positive-fixint form of the integer 0 is itself the
// single byte 0x00, which a method returning int(0) would produce. Instead
// encode always prepends payloadTag (0x01) to its output, so every real
// entry is at least two bytes and its first byte is never 0x00; nullMarker
// is the only value ever written whose sole byte is 0x00.
var nullMarker = []byte{0x00}

// payloadTag is the one-byte envelope prefix encode writes ahead of every
// non-null payload, reserving nullMarker's leading 0x00 for the null case
// regardless of what the base codec or gzip would otherwise produce there.
const payloadTag = 0x01

// gzipMagic is gzip's two leading magic bytes, used to detect compressed
// framing on decode regardless of the descriptor's current Compress flag
// (an entry may have been written under a different compress setting).
var gzipMagic = []byte{0x1f, 0x8b}

// payloadCodec is the codec pipeline (C1): serialize via a pluggable
// codec.Codec[any] (msgpack by default — a compact, self-describing binary
// format, matching §4.1's requirement without hand-rolling a wire format),
// then optionally gzip-frame large payloads. base is swappable via
// EngineOptions.PayloadCodec so a caller can drop in codec.JSONCodec[any]
// or codec.CBOR[any] instead; msgpack stays the zero-value default because
// it is what the descriptors in this codebase are tuned for. Grounded on
// codec.Msgpack's choice of library and on local.Tier's envelope-prefixing
// approach of never trusting the backend to do bookkeeping the contract
// requires.
type payloadCodec struct {
	base            codec.Codec[any]
	maxDecompressed int
	log             Logger
	hooks           Hooks
}

// encode serializes v, gzip-framing the result when compress is true and
// the serialized length is >= threshold. Returns an error only on
// serialization failure; compression failure degrades to the uncompressed
// payload (§4.1), never an error.
func (p *payloadCodec) encode(ns, key string, v any, compress bool, threshold int) ([]byte, error) {
	raw, err := p.base.Encode(v)
	if err != nil {
		return nil, err
	}

	body := raw
	if compress && threshold > 0 && len(raw) >= threshold {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(raw); err != nil {
			p.log.Warn("compression failed, storing uncompressed", Fields{"ns": ns, "key": key, "err": err})
		} else if err := gw.Close(); err != nil {
			p.log.Warn("compression failed, storing uncompressed", Fields{"ns": ns, "key": key, "err": err})
		} else {
			body = buf.Bytes()
		}
	}

	out := make([]byte, 1+len(body))
	out[0] = payloadTag
	copy(out[1:], body)
	return out, nil
}

// decode reverses encode. typeHint, when non-nil, is the zero value of the
// concrete decode target (descriptor's item_type/return type); the payload
// is unmarshaled into a fresh instance of that type via reflection, which
// requires calling msgpack directly since codec.Codec[V]'s V is fixed at
// compile time and cannot carry a runtime-chosen type. A nil typeHint
// decodes through the pluggable base codec into a generic map/slice/scalar
// shape instead.
func (p *payloadCodec) decode(b []byte, typeHint any) (any, error) {
	if len(b) == 0 || b[0] != payloadTag {
		return nil, fmt.Errorf("payload: missing or unrecognized envelope tag")
	}
	raw := b[1:]

	if len(raw) >= 2 && bytes.Equal(raw[:2], gzipMagic) {
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		var r io.Reader = gr
		if p.maxDecompressed > 0 {
			r = io.LimitReader(gr, int64(p.maxDecompressed)+1)
		}
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if p.maxDecompressed > 0 && len(decompressed) > p.maxDecompressed {
			return nil, fmt.Errorf("payload: decompressed size %d exceeds limit %d", len(decompressed), p.maxDecompressed)
		}
		raw = decompressed
	}

	if typeHint == nil {
		return p.base.Decode(raw)
	}

	rt := reflect.TypeOf(typeHint)
	out := reflect.New(rt) // *T
	if err := msgpack.Unmarshal(raw, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}

// isNil reports whether v is the untyped nil interface or a nil pointer,
// map, slice, chan, or func wrapped in an interface — the set of "no
// result" shapes a Go loader can plausibly return where the null-marker
// path should apply.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
