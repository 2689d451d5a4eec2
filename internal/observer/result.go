package observer

import (
	"fmt"
	"io/fs"
	"os"
	"reflect"

	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

// Kind tags the variant of a classified result value.
type Kind int

const (
	KindUnsupported Kind = iota
	KindScalar
	KindMapping
	KindArray
	KindFilePath
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindArray:
		return "array"
	case KindFilePath:
		return "file_path"
	default:
		return "unsupported"
	}
}

// Result is one element of an experiment result after classification. Only
// the field matching Kind is set.
type Result struct {
	Kind    Kind
	Index   int
	Scalar  float64
	Mapping map[string]any
	Array   tracking.Array
	Path    string
	// Type is the Go type of the original value, used in warnings.
	Type string
	// Err is set when the value looked like an array but was malformed.
	Err error
}

// namedFile is an open file that knows its path, such as *os.File.
type namedFile interface {
	fs.File
	Name() string
}

// Classify resolves v to exactly one variant. Arrays are checked before file
// paths so numeric data is never mistaken for a file.
func Classify(index int, v any) Result {
	r := Result{Index: index, Type: fmt.Sprintf("%T", v)}
	if arr, ok, err := asArray(v); ok {
		r.Kind, r.Array, r.Err = KindArray, arr, err
		return r
	}
	if f, ok := asScalar(v); ok {
		r.Kind, r.Scalar = KindScalar, f
		return r
	}
	if m, ok := asMapping(v); ok {
		r.Kind, r.Mapping = KindMapping, m
		return r
	}
	if p, ok := asFilePath(v); ok {
		r.Kind, r.Path = KindFilePath, p
		return r
	}
	r.Kind = KindUnsupported
	return r
}

// results turns a completion result into the sequence of values to dispatch.
func results(result any) []any {
	if seq, ok := result.([]any); ok {
		return seq
	}
	return []any{result}
}

func asScalar(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// asMapping accepts any map with string keys.
func asMapping(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// asArray reports whether v is array data. A one-dimensional slice becomes a
// single-row image.
func asArray(v any) (tracking.Array, bool, error) {
	switch a := v.(type) {
	case tracking.Array:
		arr, err := tracking.NewArray(a.Shape, a.Data)
		return arr, true, err
	case *tracking.Array:
		if a == nil {
			return tracking.Array{}, true, fmt.Errorf("nil array")
		}
		arr, err := tracking.NewArray(a.Shape, a.Data)
		return arr, true, err
	case []float64:
		arr, err := tracking.NewArray([]int{1, len(a)}, a)
		return arr, true, err
	case [][]float64:
		arr, err := tracking.ArrayFrom2D(a)
		return arr, true, err
	case [][][]float64:
		arr, err := tracking.ArrayFrom3D(a)
		return arr, true, err
	}
	return tracking.Array{}, false, nil
}

func asFilePath(v any) (string, bool) {
	switch f := v.(type) {
	case FilePath:
		return string(f), f != ""
	case *os.File:
		if f == nil {
			return "", false
		}
		return f.Name(), true
	case namedFile:
		return f.Name(), true
	}
	return "", false
}
