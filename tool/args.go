package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String reads a string argument.
func String(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing argument %s", name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("argument %s must be a string, got %T", name, v)
	}
}

// Int reads an integer argument. JSON numbers decode as float64, and models
// sometimes quote numbers, so both are accepted.
func Int(args map[string]interface{}, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %s must be an integer, got %v", name, n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("argument %s must be an integer: %w", name, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("argument %s must be an integer, got %T", name, v)
	}
}

// Strings reads a list of strings. A single string is treated as a one
// element list.
func Strings(args map[string]interface{}, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing argument %s", name)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case string:
		return []string{list}, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %s[%d] must be a string, got %T", name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %s must be a list of strings, got %T", name, v)
	}
}
