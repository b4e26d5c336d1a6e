// Package jsonpath extracts values from decoded JSON by dotted path.
package jsonpath

import (
	"strconv"
	"strings"
)

// Extract walks data along a dotted path ("a.b.0.c") and returns the
// value at the end. Numeric segments index into arrays. The second
// return reports whether the full path resolved.
func Extract(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// ExtractString extracts a path and renders scalars as strings.
// Non-scalar values and unresolved paths return ("", false).
func ExtractString(data any, path string) (string, bool) {
	value, ok := Extract(data, path)
	if !ok {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case nil:
		return "", true
	default:
		return "", false
	}
}
