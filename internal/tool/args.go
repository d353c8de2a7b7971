package tool

import (
	"fmt"
	"math"
)

// Argument coercion helpers shared by tool implementations. JSON decoding
// yields float64 for every number and []any for every array, so each helper
// narrows from those.

// StringArg returns the named string argument, or an error when required and
// absent. A missing optional argument returns fallback.
func StringArg(args map[string]any, name string, required bool, fallback string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required parameter %q", name)
		}
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", name, v)
	}
	if required && s == "" {
		return "", fmt.Errorf("parameter %q cannot be empty", name)
	}
	return s, nil
}

// IntArg returns the named integer argument. JSON numbers arrive as float64;
// non-integral values are rejected.
func IntArg(args map[string]any, name string, required bool, fallback int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("missing required parameter %q", name)
		}
		return fallback, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be an integer, got %T", name, v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %q must be an integer, got %v", name, f)
	}
	return int(f), nil
}

// BoolArg returns the named boolean argument.
func BoolArg(args map[string]any, name string, fallback bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean, got %T", name, v)
	}
	return b, nil
}

// StringListArg returns the named list-of-strings argument, or nil when absent.
func StringListArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a list, got %T", name, v)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q element %d must be a string, got %T", name, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// StringMapArg returns the named string-to-string mapping argument.
func StringMapArg(args map[string]any, name string) (map[string]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object, got %T", name, v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q key %q must be a string, got %T", name, k, item)
		}
		out[k] = s
	}
	return out, nil
}
