package script

import (
	"context"
	"fmt"
	"strings"
)

// Unwrap returns the expression held by a string that is entirely one
// ${...} block, trimming surrounding whitespace.
func Unwrap(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") {
		return "", false
	}
	if matchBrace(trimmed, 1) != len(trimmed)-1 {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-1]), true
}

// IsExpression reports whether s is a single ${...} expression.
func IsExpression(s string) bool {
	_, ok := Unwrap(s)
	return ok
}

// Evaluate resolves a string that may hold expressions. A string that is a
// single ${...} block yields the expression's value. A string with embedded
// blocks is rendered as a template. Any other string is returned unchanged.
func Evaluate(ctx context.Context, compiler Compiler, s string, globals map[string]any) (any, error) {
	if expr, ok := Unwrap(s); ok {
		value, err := EvaluateExpression(ctx, compiler, expr, globals)
		if err != nil {
			return nil, err
		}
		return value.Value(), nil
	}
	if !strings.Contains(s, "${") {
		return s, nil
	}
	template, err := NewTemplate(compiler, s)
	if err != nil {
		return nil, err
	}
	return template.Eval(ctx, globals)
}

// EvaluateExpression compiles and evaluates a bare expression.
func EvaluateExpression(ctx context.Context, compiler Compiler, expr string, globals map[string]any) (Value, error) {
	compiled, err := compiler.Compile(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expr, err)
	}
	value, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return value, nil
}

// EvaluateCondition evaluates a condition expression that may be wrapped in
// ${...}. The literals "true" and "false" are accepted without compiling.
func EvaluateCondition(ctx context.Context, compiler Compiler, condition string, globals map[string]any) (bool, error) {
	expr := strings.TrimSpace(condition)
	if unwrapped, ok := Unwrap(expr); ok {
		expr = unwrapped
	}
	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	value, err := EvaluateExpression(ctx, compiler, expr, globals)
	if err != nil {
		return false, err
	}
	return value.IsTruthy(), nil
}

// EvaluateValue walks maps and lists, resolving every string with Evaluate.
func EvaluateValue(ctx context.Context, compiler Compiler, value any, globals map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Evaluate(ctx, compiler, v, globals)
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := EvaluateValue(ctx, compiler, item, globals)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			resolved, err := EvaluateValue(ctx, compiler, item, globals)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return value, nil
	}
}
