package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		globals     map[string]any
		wantErr     bool
		want        string
		errContains string
	}{
		{
			name:    "plain string without template variables",
			input:   "Hello World",
			globals: nil,
			want:    "Hello World",
		},
		{
			name:  "string with single template variable",
			input: "Hello ${state.name}",
			globals: map[string]any{
				"state": map[string]any{
					"name": "Alice",
				},
			},
			want: "Hello Alice",
		},
		{
			name:  "string with multiple template variables",
			input: "${state.greeting} ${state.name}! The answer is ${40 + 2}",
			globals: map[string]any{
				"state": map[string]any{
					"greeting": "Hello",
					"name":     "Bob",
				},
			},
			want: "Hello Bob! The answer is 42",
		},
		{
			name:    "string with nested expressions",
			input:   "Result: ${1 + (2 * 3)}",
			globals: nil,
			want:    "Result: 7",
		},
		{
			name:        "invalid template syntax - unclosed brace",
			input:       "Hello ${name",
			globals:     map[string]any{"name": "Alice"},
			wantErr:     true,
			errContains: "unclosed template expression",
		},
		{
			name:        "invalid expression inside template",
			input:       "Hello ${1 +}",
			globals:     nil,
			wantErr:     true,
			errContains: "invalid expression",
		},
		{
			name:        "undefined variable",
			input:       "Hello ${undefined_var}",
			globals:     nil,
			wantErr:     true,
			errContains: "undefined variable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewTemplate(NewRisorEngine(DefaultRisorGlobals()), tt.input)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					require.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			got, err := s.Eval(context.Background(), tt.globals)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestJQTemplate(t *testing.T) {
	engine := NewJQEngine(nil)
	globals := map[string]any{
		"state":  map[string]any{"name": "Alice", "items": []any{1, 2, 3}},
		"inputs": map[string]any{"greeting": "Hi"},
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain string", input: "no expressions", want: "no expressions"},
		{name: "path", input: "Hello ${ .name }", want: "Hello Alice"},
		{name: "variable", input: "${ $inputs.greeting } ${ .name }!", want: "Hi Alice!"},
		{name: "object literal", input: "obj=${ {n: .name} }", want: `obj={"n":"Alice"}`},
		{name: "number", input: "count=${ .items | length }", want: "count=3"},
		{name: "braces in strings", input: `${ "}" + .name }`, want: "}Alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := NewTemplate(engine, tt.input)
			require.NoError(t, err)
			got, err := tmpl.Eval(context.Background(), globals)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	t.Run("unclosed", func(t *testing.T) {
		_, err := NewTemplate(engine, "Hello ${ .name")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unclosed template expression")
	})
}
