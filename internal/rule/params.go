package rule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// checkParams rejects unknown param keys so configuration typos surface at
// load time instead of silently changing behavior.
func checkParams(params map[string]any, allowed ...string) error {
	for key := range params {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			keys := make([]string, 0, len(params))
			for k := range params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return fmt.Errorf("unknown param %q (have: %s)", key, strings.Join(keys, ", "))
		}
	}
	return nil
}

// stringParam reads an optional string param.
func stringParam(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: expected string, got %T", key, v)
	}
	return s, nil
}

// boolParam reads an optional bool param.
func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("param %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// intValue widens the numeric types a JSON or YAML payload can carry.
// float64 qualifies only when integral.
func intValue(v any) (int64, bool) {
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

// nonBlank returns the trimmed payload string for key when present and
// non-empty after trimming.
func nonBlank(ctx *Context, key string) (string, bool) {
	s, ok := ctx.Payload[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
