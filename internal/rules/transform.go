package rules

import (
	"fmt"
	"strings"
)

// inputPrefix marks a transform expression that references the file
// attributes, e.g. "$.input.frontmatter.tags".
const inputPrefix = "$.input"

// evalTransform evaluates a transform expression tree bottom-up
// against the file attributes. Expressions are plain JSON values:
//
//   - a string beginning with "$.input" is a path reference
//   - a mapping with an "fn" key is a function call with "args"
//   - any other mapping or array evaluates element-wise
//   - everything else is a literal
func evalTransform(expr any, attrs map[string]any) (any, error) {
	switch v := expr.(type) {
	case string:
		if v == inputPrefix {
			return attrs, nil
		}
		if rest, ok := strings.CutPrefix(v, inputPrefix+"."); ok {
			value, found := lookupPath(attrs, rest)
			if !found {
				return nil, nil
			}
			return value, nil
		}
		return v, nil

	case map[string]any:
		if name, ok := v["fn"].(string); ok {
			return evalCall(name, v["args"], attrs)
		}
		out := make(map[string]any, len(v))
		for key, sub := range v {
			result, err := evalTransform(sub, attrs)
			if err != nil {
				return nil, err
			}
			out[key] = result
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			result, err := evalTransform(sub, attrs)
			if err != nil {
				return nil, err
			}
			out[i] = result
		}
		return out, nil

	default:
		return expr, nil
	}
}

func evalCall(name string, rawArgs any, attrs map[string]any) (any, error) {
	argList, _ := rawArgs.([]any)
	args := make([]any, len(argList))
	for i, raw := range argList {
		v, err := evalTransform(raw, attrs)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch name {
	case "split":
		s, err := stringArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		sep, err := stringArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil

	case "slice":
		arr, err := sliceArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		start, err := intArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		end := len(arr)
		if len(args) > 2 {
			end, err = intArg(name, args, 2)
			if err != nil {
				return nil, err
			}
		}
		start, end = clampRange(start, end, len(arr))
		return append([]any{}, arr[start:end]...), nil

	case "join":
		arr, err := sliceArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		sep, err := stringArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(arr))
		for i, v := range arr {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("join: element %d is not a string", i)
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil

	case "toLowerCase":
		s, err := stringArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil

	case "replace":
		s, err := stringArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		search, err := stringArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		repl, err := stringArg(name, args, 2)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, search, repl), nil

	case "get":
		if len(args) < 2 {
			return nil, fmt.Errorf("get: want 2 args, got %d", len(args))
		}
		path, err := stringArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		value, found := lookupPath(args[0], path)
		if !found {
			return nil, nil
		}
		return value, nil

	default:
		return nil, fmt.Errorf("unknown transform function %q", name)
	}
}

// clampRange applies JavaScript-style slice semantics: negative
// indices count from the end, and the range is clamped to the array.
func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	start = min(max(start, 0), length)
	end = min(max(end, 0), length)
	if end < start {
		end = start
	}
	return start, end
}

func stringArg(fn string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", fn, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d is not a string", fn, i)
	}
	return s, nil
}

func sliceArg(fn string, args []any, i int) ([]any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%s: missing argument %d", fn, i)
	}
	arr, ok := args[i].([]any)
	if !ok {
		return nil, fmt.Errorf("%s: argument %d is not an array", fn, i)
	}
	return arr, nil
}

func intArg(fn string, args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%s: missing argument %d", fn, i)
	}
	switch n := args[i].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s: argument %d is not a number", fn, i)
	}
}
