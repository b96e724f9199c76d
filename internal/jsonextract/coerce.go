package jsonextract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String returns v when it is a JSON string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the string value of v or def when v is not a non-empty string.
func StringOr(v any, def string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

// Strings coerces a JSON array into a string slice. Non-arrays yield an empty
// (non-nil) slice; scalar elements are stringified, nested values skipped.
func Strings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(t))
		case json.Number:
			out = append(out, t.String())
		case nil, map[string]any, []any:
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}

// PositiveNumber coerces numbers and numeric strings. Zero, negative, NaN and
// non-numeric values are reported as absent.
func PositiveNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

// PositiveInt is PositiveNumber rounded to the nearest integer.
func PositiveInt(v any) (int, bool) {
	f, ok := PositiveNumber(v)
	if !ok {
		return 0, false
	}
	n := int(math.Round(f))
	if n <= 0 {
		return 0, false
	}
	return n, true
}
