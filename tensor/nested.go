package tensor

import (
	"fmt"
	"reflect"
)

// Flatten converts a nested slice of numbers, as returned by netCDF readers,
// into row-major float32 data and its shape.
func Flatten(v any) ([]float32, []int, error) {
	data, shape, err := Flatten64(v)
	if err != nil {
		return nil, nil, err
	}
	return Cast[float32](data), shape, nil
}

// Flatten64 is Flatten without the loss of precision, for coordinates such
// as times in seconds.
func Flatten64(v any) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	if len(shape) == 0 {
		return nil, nil, fmt.Errorf("tensor: %T is not a slice", v)
	}
	out := make([]float64, 0, Product(shape))
	var walk func(reflect.Value, int) error
	walk = func(x reflect.Value, depth int) error {
		if depth < len(shape) {
			if x.Kind() != reflect.Slice || x.Len() != shape[depth] {
				return fmt.Errorf("tensor: ragged nested slice at depth %d", depth)
			}
			for i := 0; i < x.Len(); i++ {
				if err := walk(x.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		switch x.Kind() {
		case reflect.Float32, reflect.Float64:
			out = append(out, x.Float())
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			out = append(out, float64(x.Int()))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out = append(out, float64(x.Uint()))
		default:
			return fmt.Errorf("tensor: unsupported element kind %s", x.Kind())
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

// FromNested builds a tensor with the given dims from a nested slice.
func FromNested(dims []Dim, v any) (*Tensor, error) {
	data, shape, err := Flatten(v)
	if err != nil {
		return nil, err
	}
	return New(dims, shape, data)
}
