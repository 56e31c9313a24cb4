package common

import (
	"strconv"
	"strings"
)

// GetPath navigates a decoded JSON tree by dot-separated path and returns the
// value found there. Map keys are matched literally; numeric segments index
// into arrays. An empty path returns the input itself.
func GetPath(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}

	current := data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []interface{}:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// GetPathDefault is GetPath with a fallback for missing or null values
func GetPathDefault(data interface{}, path string, defaultValue interface{}) interface{} {
	value, ok := GetPath(data, path)
	if !ok || value == nil {
		return defaultValue
	}
	return value
}

// GetPathString returns the value at path rendered as a string.
// Non-string scalars are not coerced; callers needing formatting do it themselves.
func GetPathString(data interface{}, path string) (string, bool) {
	value, ok := GetPath(data, path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SetPath writes value at the dot-separated path, creating intermediate
// objects as needed. An intermediate that exists but is not an object is
// replaced by one; the last segment always overwrites.
func SetPath(data map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")
	current := data

	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
}

// DeepCopyValue clones a decoded JSON tree. Maps and slices are copied
// recursively, scalars are shared (they are immutable once decoded).
func DeepCopyValue(value interface{}) interface{} {
	switch node := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, v := range node {
			out[k] = DeepCopyValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, v := range node {
			out[i] = DeepCopyValue(v)
		}
		return out
	default:
		return node
	}
}

// ValueDepth reports the nesting depth of a decoded JSON tree. Scalars have
// depth 1, an object or array adds one level per containment.
func ValueDepth(value interface{}) int {
	switch node := value.(type) {
	case map[string]interface{}:
		max := 0
		for _, v := range node {
			if d := ValueDepth(v); d > max {
				max = d
			}
		}
		return max + 1
	case []interface{}:
		max := 0
		for _, v := range node {
			if d := ValueDepth(v); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}
