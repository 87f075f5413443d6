package reconcile

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// IsEmpty reports whether v carries no data: nil, a zero-length slice or
// array, or a map with no keys. Populated collections are never empty,
// whatever they contain; scalars such as 0 and false are never empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if raw, ok := v.(json.RawMessage); ok {
		return IsEmptyRaw(raw)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// IsEmptyRaw applies IsEmpty to encoded JSON. Absent or unparsable
// input counts as empty.
func IsEmptyRaw(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return true
	}
	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return true
		}
		return len(items) == 0
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return true
		}
		return len(fields) == 0
	}
	return !json.Valid(data)
}
