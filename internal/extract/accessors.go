package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Shallow typed accessors over decoded JSON objects. The webhook parsers
// lean on these the same way the deep searches above lean on priority keys:
// try the likely spellings in order, tolerate strings where numbers were
// expected and vice versa.

// AsMap returns v as a JSON object.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// AsSlice returns v as a JSON array.
func AsSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// FirstString returns the first non-empty string value among keys, matching
// key names case-insensitively and stringifying numbers.
func FirstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		val, ok := lookupKey(m, key)
		if !ok {
			continue
		}
		if s := ToString(val); s != "" {
			return s
		}
	}
	return ""
}

// FirstNumber returns the first numeric value among keys, accepting numbers
// encoded as strings.
func FirstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		val, ok := lookupKey(m, key)
		if !ok {
			continue
		}
		if f, ok := ToFloat(val); ok {
			return f, true
		}
	}
	return 0, false
}

// FirstBool returns the first boolean value among keys, accepting the usual
// string and numeric spellings of truth.
func FirstBool(m map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		val, ok := lookupKey(m, key)
		if !ok {
			continue
		}
		switch v := val.(type) {
		case bool:
			return v, true
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			if s == "true" || s == "1" || s == "yes" {
				return true, true
			}
			if s == "false" || s == "0" || s == "no" {
				return false, true
			}
		case float64:
			return v != 0, true
		}
	}
	return false, false
}

// ToString converts a scalar to its string form; empty for anything else.
func ToString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// ToFloat converts a scalar to a float64 when possible.
func ToFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Digits strips everything but decimal digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BareJID returns the identifier part before any @-suffix.
func BareJID(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "@"); idx >= 0 {
		return s[:idx]
	}
	return s
}
