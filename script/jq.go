package script

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// JQInputGlobal is the global whose value becomes the jq input document ".".
const JQInputGlobal = "state"

// JQEngine compiles jq programs. Globals other than JQInputGlobal are bound
// as jq variables, so a global named "CONST" is referenced as $CONST.
type JQEngine struct {
	globals map[string]any
}

func NewJQEngine(globals map[string]any) *JQEngine {
	return &JQEngine{globals: globals}
}

func (e *JQEngine) Compile(ctx context.Context, code string) (Script, error) {
	query, err := gojq.Parse(strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", code, err)
	}
	return &JQScript{engine: e, source: code, query: query, codes: map[string]*gojq.Code{}}, nil
}

// JQScript is a parsed jq program. It is compiled lazily for each distinct
// set of variable names it is evaluated with.
type JQScript struct {
	engine *JQEngine
	source string
	query  *gojq.Query
	mutex  sync.Mutex
	codes  map[string]*gojq.Code
}

func (s *JQScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combined := make(map[string]any, len(s.engine.globals)+len(globals))
	for name, value := range s.engine.globals {
		combined[name] = value
	}
	for name, value := range globals {
		combined[name] = value
	}

	input, err := toJQValue(combined[JQInputGlobal])
	if err != nil {
		return nil, fmt.Errorf("invalid jq input: %w", err)
	}
	var names []string
	for name := range combined {
		if name != JQInputGlobal && isJQIdentifier(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	code, err := s.compile(names)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(names))
	for i, name := range names {
		if values[i], err = toJQValue(combined[name]); err != nil {
			return nil, fmt.Errorf("invalid jq variable $%s: %w", name, err)
		}
	}

	var results []any
	iter := code.RunWithContext(ctx, input, values...)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, isHalt := err.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				break
			}
			return nil, fmt.Errorf("failed to evaluate jq expression %q: %w", s.source, err)
		}
		results = append(results, v)
	}
	switch len(results) {
	case 0:
		return &JQValue{}, nil
	case 1:
		return &JQValue{value: results[0]}, nil
	default:
		return &JQValue{value: results}, nil
	}
}

func (s *JQScript) compile(names []string) (*gojq.Code, error) {
	key := strings.Join(names, ",")
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if code, ok := s.codes[key]; ok {
		return code, nil
	}
	variables := make([]string, len(names))
	for i, name := range names {
		variables[i] = "$" + name
	}
	code, err := gojq.Compile(s.query, gojq.WithVariables(variables))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression %q: %w", s.source, err)
	}
	s.codes[key] = code
	return code, nil
}

// JQValue is the result of a jq evaluation. Multiple outputs are collected
// into a list.
type JQValue struct {
	value any
}

func (v *JQValue) Value() any {
	return v.value
}

func (v *JQValue) Items() ([]any, error) {
	switch value := v.value.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return value, nil
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(value))
		for _, key := range keys {
			items = append(items, value[key])
		}
		return items, nil
	default:
		return []any{value}, nil
	}
}

func (v *JQValue) String() string {
	switch value := v.value.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(data)
	}
}

// IsTruthy follows jq: only false and null are falsy.
func (v *JQValue) IsTruthy() bool {
	switch value := v.value.(type) {
	case nil:
		return false
	case bool:
		return value
	default:
		return true
	}
}

func isJQIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// toJQValue converts a Go value into the types gojq accepts.
func toJQValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, int, float64:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float32:
		return float64(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
		return v.Float64()
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			converted, err := toJQValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	case map[string]any:
		m := make(map[string]any, len(v))
		for key, item := range v {
			converted, err := toJQValue(item)
			if err != nil {
				return nil, err
			}
			m[key] = converted
		}
		return m, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]any, rv.Len())
		for i := range items {
			converted, err := toJQValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	}
	return NormalizeJSON(value)
}

// NormalizeJSON round-trips a value through encoding/json so that structs,
// typed maps and typed slices become plain maps, lists and numbers.
func NormalizeJSON(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	var result any
	if err := decoder.Decode(&result); err != nil {
		return nil, err
	}
	return fromJSONNumbers(result), nil
}

func fromJSONNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i, item := range v {
			v[i] = fromJSONNumbers(item)
		}
		return v
	case map[string]any:
		for key, item := range v {
			v[key] = fromJSONNumbers(item)
		}
		return v
	default:
		return v
	}
}
