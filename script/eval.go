package script

import (
	"context"
	"fmt"
	"strings"
)

// Template is a string with embedded ${...} expressions.
type Template struct {
	raw   string
	parts []string
	codes []Script
}

func NewTemplate(engine Compiler, raw string) (*Template, error) {
	spans, err := findExpressions(raw)
	if err != nil {
		return nil, err
	}
	t := &Template{raw: raw}
	if len(spans) == 0 {
		return t, nil
	}

	var lastEnd int
	for _, span := range spans {
		t.parts = append(t.parts, raw[lastEnd:span.start])
		expr := raw[span.start+2 : span.end-1]
		compiled, err := engine.Compile(context.Background(), expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}
		t.codes = append(t.codes, compiled)
		lastEnd = span.end
	}
	t.parts = append(t.parts, raw[lastEnd:])
	return t, nil
}

// Eval renders the template. parts always holds one more entry than codes.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		return t.raw, nil
	}
	var sb strings.Builder
	for i, code := range t.codes {
		sb.WriteString(t.parts[i])
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		sb.WriteString(result.String())
	}
	sb.WriteString(t.parts[len(t.parts)-1])
	return sb.String(), nil
}

type exprSpan struct {
	start int // index of "$"
	end   int // index just past the closing "}"
}

// findExpressions locates ${...} blocks, balancing nested braces and
// skipping over quoted strings.
func findExpressions(raw string) ([]exprSpan, error) {
	var spans []exprSpan
	for i := 0; i < len(raw); i++ {
		if raw[i] != '$' || i+1 >= len(raw) || raw[i+1] != '{' {
			continue
		}
		end := matchBrace(raw, i+1)
		if end < 0 {
			return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
		}
		spans = append(spans, exprSpan{start: i, end: end + 1})
		i = end
	}
	return spans, nil
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(raw string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(raw); i++ {
		c := raw[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
