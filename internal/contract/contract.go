// Package contract implements declarative payload validation. A contract
// is an ordered set of field declarations with per-field checks; Validate
// reports every broken field at once, with human-readable messages keyed by
// field name. Contracts gate the pipeline twice: a per-source raw contract
// before transformation and the canonical contract after it.
package contract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Contract validates a payload mapping. ok is false exactly when
// violations is non-empty.
type Contract interface {
	Validate(payload map[string]any) (ok bool, violations map[string][]string)
}

// Check inspects one value and returns a violation message, or "" when the
// value passes.
type Check func(v any) string

// Field declares requirements for one payload key.
type Field struct {
	Key      string
	Required bool
	Checks   []Check
}

// Required declares a key that must be present and non-nil. Absent keys and
// explicit nulls both report "must be filled".
func Required(key string, checks ...Check) Field {
	return Field{Key: key, Required: true, Checks: checks}
}

// Optional declares a key that may be absent or null. Checks run only when
// a non-null value is present.
func Optional(key string, checks ...Check) Field {
	return Field{Key: key, Checks: checks}
}

// Schema is an immutable, ordered set of field declarations.
type Schema struct {
	fields []Field
}

// NewSchema builds a schema from field declarations.
func NewSchema(fields ...Field) *Schema {
	return &Schema{fields: append([]Field(nil), fields...)}
}

// Validate implements Contract. Fields validate independently so one call
// reports every broken field; within a field the first failing check wins.
func (s *Schema) Validate(payload map[string]any) (bool, map[string][]string) {
	violations := map[string][]string{}

	for _, f := range s.fields {
		v, present := payload[f.Key]
		if !present || v == nil {
			if f.Required {
				violations[f.Key] = append(violations[f.Key], "must be filled")
			}
			continue
		}
		for _, check := range f.Checks {
			if msg := check(v); msg != "" {
				violations[f.Key] = append(violations[f.Key], msg)
				break
			}
		}
	}

	if len(violations) == 0 {
		return true, nil
	}
	return false, violations
}

// Filled rejects empty strings and empty arrays.
func Filled() Check {
	return func(v any) string {
		switch t := v.(type) {
		case string:
			if t == "" {
				return "must be filled"
			}
		case []any:
			if len(t) == 0 {
				return "must be filled"
			}
		case []string:
			if len(t) == 0 {
				return "must be filled"
			}
		}
		return ""
	}
}

// IsString requires a string value.
func IsString() Check {
	return func(v any) string {
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
		return ""
	}
}

// IsBool requires a boolean value.
func IsBool() Check {
	return func(v any) string {
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
		return ""
	}
}

// IsInt requires an integral number. The concrete type varies by decoder
// (int from YAML, float64 from JSON, json.Number from strict decoding);
// all qualify as long as the value is integral.
func IsInt() Check {
	return func(v any) string {
		if _, ok := intValue(v); !ok {
			return "must be an integer"
		}
		return ""
	}
}

// GreaterThan requires an integral number strictly above n.
func GreaterThan(n int64) Check {
	return func(v any) string {
		i, ok := intValue(v)
		if !ok {
			return "must be an integer"
		}
		if i <= n {
			return fmt.Sprintf("must be greater than %d", n)
		}
		return ""
	}
}

// OneOf restricts a string to an allowed set.
func OneOf(allowed ...string) Check {
	return func(v any) string {
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		for _, a := range allowed {
			if s == a {
				return ""
			}
		}
		return fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

// StringArray requires an array whose elements are all strings.
func StringArray() Check {
	return func(v any) string {
		switch t := v.(type) {
		case []string:
			return ""
		case []any:
			for _, el := range t {
				if _, ok := el.(string); !ok {
					return "must be an array of strings"
				}
			}
			return ""
		default:
			return "must be an array of strings"
		}
	}
}

// IntArray requires an array whose elements are all integral numbers.
func IntArray() Check {
	return func(v any) string {
		switch t := v.(type) {
		case []int64, []int:
			return ""
		case []any:
			for _, el := range t {
				if _, ok := intValue(el); !ok {
					return "must be an array of integers"
				}
			}
			return ""
		default:
			return "must be an array of integers"
		}
	}
}

// intValue widens the numeric types a decoded payload can carry. float64
// qualifies only when integral.
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
