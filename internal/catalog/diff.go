package catalog

import (
	"encoding/json"
	"sort"
)

// ValueEqual reports semantic equality between two payload values.
// Rules beyond plain ==:
//   - integers compare numerically across int/int64/float64/json.Number
//     (webhook JSON decodes numbers as float64, records carry int64)
//   - nil equals an empty array (optional array fields omit vs [] are the
//     same statement about the record)
//   - arrays compare elementwise, objects compare keywise
func ValueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		la, aOK := asList(a)
		lb, bOK := asList(b)
		if aOK && len(la) == 0 {
			return b == nil
		}
		if bOK && len(lb) == 0 {
			return a == nil
		}
		return false
	}

	if ia, ok := asInt64(a); ok {
		if ib, ok := asInt64(b); ok {
			return ia == ib
		}
		return false
	}

	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	case float64:
		vb, ok := asFloat64(b)
		return ok && va == vb
	case json.Number:
		fa, okA := asFloat64(va)
		fb, okB := asFloat64(b)
		return okA && okB && fa == fb
	}

	if la, ok := asList(a); ok {
		lb, ok := asList(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !ValueEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}

	if ma, ok := a.(map[string]any); ok {
		mb, ok := b.(map[string]any)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, present := mb[k]
			if !present || !ValueEqual(va, vb) {
				return false
			}
		}
		return true
	}

	return a == b
}

// ChangedKeys computes the semantic diff between the current record
// projection and an incoming mapped payload. A key is changed when it is
// present in the incoming payload and its value differs from the current
// one. Keys absent from the incoming payload are never changed (partial
// payloads update only what they carry). Result is sorted.
func ChangedKeys(current, incoming map[string]any) []string {
	keys := make([]string, 0, len(incoming))
	for k, v := range incoming {
		if !ValueEqual(current[k], v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// asInt64 extracts an integer value from the types a payload can carry.
// float64 qualifies only when integral.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		i := int64(n)
		if float64(i) == n {
			return i, true
		}
		return 0, false
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asList widens the slice types payloads and projections carry into []any.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
