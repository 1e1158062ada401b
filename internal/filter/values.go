package filter

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// normalize coerces a criterion or record value to the canonical Go type for
// t: string, float64 or time.Time.
func normalize(v any, t ValueType) (any, bool) {
	switch t {
	case TypeNumber:
		f, ok := toFloat(v)
		return f, ok
	case TypeDate:
		tm, ok := toTime(v)
		return tm, ok
	default:
		s, ok := v.(string)
		return s, ok
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// asList unpacks any slice value into []any.
func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if l, ok := asList(v); ok {
		return len(l) == 0
	}
	return false
}

// compare orders a record value against a criterion value. ok is false when
// either side cannot be read as t.
func compare(a, b any, t ValueType) (int, bool) {
	na, ok := normalize(a, t)
	if !ok {
		return 0, false
	}
	nb, ok := normalize(b, t)
	if !ok {
		return 0, false
	}
	switch x := na.(type) {
	case float64:
		y := nb.(float64)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		return x.Compare(nb.(time.Time)), true
	case string:
		return strings.Compare(x, nb.(string)), true
	}
	return 0, false
}

func equal(a, b any, t ValueType) bool {
	c, ok := compare(a, b, t)
	return ok && c == 0
}
