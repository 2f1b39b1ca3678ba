// Package typeutil reads loosely typed documents: envelope payloads, JSON
// decoded from model replies and values converted from structpb.
//
// Every accessor uses the comma-ok idiom or a caller-supplied default, so a
// malformed document never panics.
package typeutil

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Map asserts v to map[string]any.
func Map(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

// String asserts v to string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Int converts v to int. JSON numbers arrive as float64 and are accepted
// only when they hold a whole value.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// Float converts v to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool converts v to bool. Models often quote booleans, so "true" and
// "false" are accepted too.
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// Slice asserts v to []any.
func Slice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// Strings converts v to a string slice. A lone string becomes a one-element
// slice. Non-string elements make the conversion fail.
func Strings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case string:
		return []string{s}, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// Maps returns the map elements of v. A lone map becomes a one-element slice
// and other elements are skipped.
func Maps(v any) []map[string]any {
	if m, ok := Map(v); ok {
		return []map[string]any{m}
	}
	items, ok := Slice(v)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := Map(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// Field accessors
// =============================================================================

// Str returns the trimmed string at key, or "".
func Str(doc map[string]any, key string) string {
	return StrOr(doc, key, "")
}

// StrOr returns the trimmed string at key, or def when it is missing,
// blank or not a string.
func StrOr(doc map[string]any, key, def string) string {
	if s, ok := String(doc[key]); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return def
}

// IntOr returns the int at key, or def.
func IntOr(doc map[string]any, key string, def int) int {
	if i, ok := Int(doc[key]); ok {
		return i
	}
	return def
}

// BoolOr returns the bool at key, or def.
func BoolOr(doc map[string]any, key string, def bool) bool {
	if b, ok := Bool(doc[key]); ok {
		return b
	}
	return def
}

// Lookup follows a dot-separated path such as "milestone.name".
func Lookup(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}
	var current any = doc
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		m, ok := Map(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupString follows path and asserts the result to string.
func LookupString(doc map[string]any, path string) (string, bool) {
	v, ok := Lookup(doc, path)
	if !ok {
		return "", false
	}
	return String(v)
}
