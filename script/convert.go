package script

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/risor-io/risor/object"
)

// ConvertRisorValueToGo converts a Risor object to a plain Go value.
func ConvertRisorValueToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.NilType:
		return nil
	case *object.List:
		result := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			result = append(result, ConvertRisorValueToGo(item))
		}
		return result
	case *object.Set:
		result := make([]any, 0, len(o.Value()))
		for _, item := range o.Value() {
			result = append(result, ConvertRisorValueToGo(item))
		}
		return result
	case *object.Map:
		result := make(map[string]any, len(o.Value()))
		for key, value := range o.Value() {
			result[key] = ConvertRisorValueToGo(value)
		}
		return result
	default:
		return obj.Inspect()
	}
}

// ConvertRisorValueToBool reports the truthiness of a Risor object. The
// string "false" is falsy.
func ConvertRisorValueToBool(obj object.Object) bool {
	switch o := obj.(type) {
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value() != 0
	case *object.Float:
		return o.Value() != 0.0
	case *object.String:
		val := o.Value()
		return val != "" && strings.ToLower(val) != "false"
	case *object.List:
		return len(o.Value()) > 0
	case *object.Map:
		return len(o.Value()) > 0
	default:
		return obj.IsTruthy()
	}
}

// ConvertEachValue flattens a Risor object or plain Go value into a list of
// items to iterate over. Scalars become a single item.
func ConvertEachValue(value any) ([]any, error) {
	if obj, ok := value.(object.Object); ok {
		switch o := obj.(type) {
		case *object.List, *object.Set:
			return ConvertEachValue(ConvertRisorValueToGo(o))
		case *object.Map:
			keys := make([]string, 0, len(o.Value()))
			for key := range o.Value() {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			items := make([]any, 0, len(keys))
			for _, key := range keys {
				items = append(items, ConvertRisorValueToGo(o.Value()[key]))
			}
			return items, nil
		case *object.String, *object.Int, *object.Float, *object.Bool, *object.Time:
			return []any{ConvertRisorValueToGo(o)}, nil
		default:
			return nil, fmt.Errorf("unsupported risor type to iterate: %T", obj)
		}
	}

	switch v := value.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case map[string]any:
		var result []any
		for key, item := range v {
			result = append(result, map[string]any{"key": key, "value": item})
		}
		return result, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		result := make([]any, rv.Len())
		for i := range result {
			result[i] = rv.Index(i).Interface()
		}
		return result, nil
	case reflect.String, reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return []any{value}, nil
	default:
		return nil, fmt.Errorf("unsupported value type to iterate: %T", value)
	}
}

// GetSafeGlobals lists the deterministic Risor builtins that expressions may
// use.
func GetSafeGlobals() map[string]bool {
	return map[string]bool{
		"all": true, "any": true, "base64": true, "bool": true,
		"buffer": true, "byte_slice": true, "byte": true, "bytes": true,
		"call": true, "chunk": true, "coalesce": true, "decode": true,
		"encode": true, "error": true, "errorf": true, "errors": true,
		"filepath": true, "float_slice": true, "float": true, "fmt": true,
		"getattr": true, "int": true, "is_hashable": true, "iter": true,
		"json": true, "keys": true, "len": true, "list": true,
		"map": true, "math": true, "regexp": true, "reversed": true,
		"set": true, "sorted": true, "sprintf": true, "string": true,
		"strings": true, "try": true, "type": true,
	}
}
