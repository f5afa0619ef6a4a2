// Package jsonsafe converts arbitrary values into something encoding/json can always marshal.
package jsonsafe

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// InfBound replaces ±Inf.
const InfBound = 1e9

// Sanitize walks v recursively. NaN becomes nil, +Inf becomes InfBound and
// -Inf becomes -InfBound. Maps come back as map[string]interface{}, slices and
// arrays as []interface{}; pointers and interfaces are dereferenced. Integers,
// strings, bools and nil pass through. Anything else is rendered with fmt.
func Sanitize(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = Sanitize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = Sanitize(val)
		}
		return out
	}
	return sanitizeValue(reflect.ValueOf(v))
}

// Float applies the NaN/Inf substitution to a single number.
func Float(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return nil
	case math.IsInf(f, 1):
		return InfBound
	case math.IsInf(f, -1):
		return -InfBound
	default:
		return f
	}
}

func sanitizeValue(rv reflect.Value) interface{} {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Sanitize(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	default:
		return fmt.Sprint(rv.Interface())
	}
}
