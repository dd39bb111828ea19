package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

const maxDepth = 16

// normalizeDetails copies d into a map that json.Marshal always accepts.
func normalizeDetails(d map[string]any) map[string]any {
	out := make(map[string]any, len(d)+3)
	for k, v := range d {
		out[k] = normalize(v, 0)
	}
	return out
}

func normalize(v any, depth int) any {
	if depth > maxDepth {
		return "<nested too deep>"
	}
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, json.Number:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case error:
		return x.Error()
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface(), depth+1)
		}
		return m
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = normalize(rv.Index(i).Interface(), depth+1)
		}
		return s
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprint(v)
	}

	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// finite keeps NaN and infinities as text; encoding/json rejects them.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	return f
}
