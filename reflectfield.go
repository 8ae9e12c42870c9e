package cachemux

import (
	"reflect"
	"strings"
)

// extractEpochField reads an exported field named name (case-insensitive on
// its first letter, matching Go's export convention) off result as an
// epoch-seconds int64, for the ttl_field TTL-resolution branch (§4.6a).
// ok is false when result isn't a struct (or pointer to one) or the field
// is missing/not integer-shaped.
func extractEpochField(result any, name string) (epoch int64, ok bool) {
	rv := reflect.ValueOf(result)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0, false
	}
	exported := strings.ToUpper(name[:1]) + name[1:]
	f := rv.FieldByName(exported)
	if !f.IsValid() {
		return 0, false
	}
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(f.Uint()), true
	default:
		return 0, false
	}
}
