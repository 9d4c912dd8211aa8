package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns input key as a string. Scalars are formatted; nil and absent
// inputs yield "".
func (rc *RunContext) String(key string) string {
	switch v := rc.Inputs[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns input key as a boolean, accepting "true"/"false" strings.
func (rc *RunContext) Bool(key string, def bool) bool {
	switch v := rc.Inputs[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Float returns input key as a number.
func (rc *RunContext) Float(key string) (float64, error) {
	return ToFloat(rc.Inputs[key])
}

// Strings returns input key as a list of strings. A single string becomes a
// one-element list.
func (rc *RunContext) Strings(key string) []string {
	switch v := rc.Inputs[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// ToFloat converts JSON-ish numbers and numeric strings to float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is empty")
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}
