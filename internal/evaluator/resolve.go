package evaluator

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// undefinedValue marks a path that did not resolve. It is distinct from a
// present JSON null.
type undefinedValue struct{}

var undefined any = undefinedValue{}

func isUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// Resolve looks path up in data. Segments are separated by dots; a numeric
// segment (or a bracketed index such as "items[0]") indexes an array. The
// empty path returns data itself. The second result is false when any segment
// is missing.
func Resolve(data any, path string) (any, bool) {
	if path == "" {
		return normalize(data), data != nil
	}

	cur := data
	for _, seg := range SplitPath(path) {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return normalize(cur), true
}

// SplitPath breaks a context path into the segments Resolve walks: dots
// separate segments and each bracketed part ("items[0]") is a segment of its
// own.
func SplitPath(path string) []string {
	var segs []string
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segs = append(segs, part)
				break
			}
			closing := strings.IndexByte(part[open:], ']')
			if closing < 0 {
				segs = append(segs, part)
				break
			}
			if open > 0 {
				segs = append(segs, part[:open])
			}
			segs = append(segs, part[open+1:open+closing])
			part = part[open+closing+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, ok := index(seg, len(c))
		if !ok {
			return nil, false
		}
		return c[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, ok := index(seg, rv.Len())
		if !ok {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return step(rv.Elem().Interface(), seg)
	}
	return nil, false
}

func index(seg string, n int) (int, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// normalize maps Go values onto the JSON value model: every number becomes
// float64, typed slices become []any and string-keyed maps map[string]any.
// Values already in that model are returned as is, never modified.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, []any, map[string]any, undefinedValue:
		return v
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}
