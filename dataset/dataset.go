// Package dataset holds the canonical model dataset: float32 lat/lon, int32
// ascending pressure levels, relative time steps with an absolute datetime
// per (batch, time), and named variables.
package dataset

import (
	"fmt"
	"sort"
	"time"

	"github.com/NOAA-EMC/MLGEFS/tensor"
)

// Order is the canonical order of dimensions. Variables use a subsequence.
var Order = []tensor.Dim{tensor.Sample, tensor.Batch, tensor.Time, tensor.Level, tensor.Lat, tensor.Lon}

// Dataset is a set of variables sharing coordinates.
type Dataset struct {
	Lat   []float32
	Lon   []float32
	Level []int32
	// Time is relative to the first step of the source dataset.
	Time []time.Duration
	// Datetime is indexed [batch][time].
	Datetime [][]time.Time
	Vars     map[string]*tensor.Tensor
	Attrs    map[string]string
}

// SchemaError reports a dataset that breaks the canonical contract.
type SchemaError struct {
	Variable string
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.Variable == "" {
		return "dataset schema: " + e.Reason
	}
	return fmt.Sprintf("dataset schema: variable %s: %s", e.Variable, e.Reason)
}

func schemaErrorf(v, format string, args ...any) error {
	return &SchemaError{Variable: v, Reason: fmt.Sprintf(format, args...)}
}

// Batch returns the size of the batch dimension.
func (d *Dataset) Batch() int { return len(d.Datetime) }

// Names returns the variable names in sorted order.
func (d *Dataset) Names() []string {
	out := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Static reports whether the named variable has no time dimension.
func (d *Dataset) Static(name string) bool {
	v, ok := d.Vars[name]
	return ok && !v.Has(tensor.Time)
}

// Samples returns the size of the sample dimension, or 0 when no variable
// carries one.
func (d *Dataset) Samples() int {
	for _, v := range d.Vars {
		if n := v.Size(tensor.Sample); n > 0 {
			return n
		}
	}
	return 0
}

// Copy returns a shallow copy whose coordinate slices, variable map and
// attributes may be replaced without affecting d. Tensors are shared.
func (d *Dataset) Copy() *Dataset {
	out := &Dataset{
		Lat:      append([]float32(nil), d.Lat...),
		Lon:      append([]float32(nil), d.Lon...),
		Level:    append([]int32(nil), d.Level...),
		Time:     append([]time.Duration(nil), d.Time...),
		Datetime: make([][]time.Time, len(d.Datetime)),
		Vars:     make(map[string]*tensor.Tensor, len(d.Vars)),
		Attrs:    make(map[string]string, len(d.Attrs)),
	}
	for i, row := range d.Datetime {
		out.Datetime[i] = append([]time.Time(nil), row...)
	}
	for k, v := range d.Vars {
		out.Vars[k] = v
	}
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// Validate checks coordinates and the dims of every variable.
func (d *Dataset) Validate() error {
	if len(d.Lat) == 0 || len(d.Lon) == 0 {
		return schemaErrorf("", "empty lat/lon axes (%d, %d)", len(d.Lat), len(d.Lon))
	}
	for i := 1; i < len(d.Lat); i++ {
		if d.Lat[i] <= d.Lat[i-1] {
			return schemaErrorf("", "latitude not ascending at %d", i)
		}
	}
	for i := 1; i < len(d.Level); i++ {
		if d.Level[i] <= d.Level[i-1] {
			return schemaErrorf("", "levels %v not strictly ascending", d.Level)
		}
	}
	for i := 1; i < len(d.Time); i++ {
		if d.Time[i] <= d.Time[i-1] {
			return schemaErrorf("", "time steps %v not strictly ascending", d.Time)
		}
	}
	for b, row := range d.Datetime {
		if len(row) != len(d.Time) {
			return schemaErrorf("", "datetime row %d has %d entries for %d steps", b, len(row), len(d.Time))
		}
	}
	sizes := map[tensor.Dim]int{
		tensor.Batch: len(d.Datetime),
		tensor.Time:  len(d.Time),
		tensor.Level: len(d.Level),
		tensor.Lat:   len(d.Lat),
		tensor.Lon:   len(d.Lon),
	}
	samples := -1
	for _, name := range d.Names() {
		v := d.Vars[name]
		if err := checkOrder(v.Dims()); err != nil {
			return schemaErrorf(name, "%v", err)
		}
		dims, shape := v.Dims(), v.Shape()
		if len(dims) < 2 || dims[len(dims)-2] != tensor.Lat || dims[len(dims)-1] != tensor.Lon {
			return schemaErrorf(name, "dims %v do not end in (lat, lon)", dims)
		}
		for i, dim := range dims {
			if dim == tensor.Sample {
				if samples >= 0 && samples != shape[i] {
					return schemaErrorf(name, "%d samples, other variables have %d", shape[i], samples)
				}
				samples = shape[i]
				continue
			}
			if shape[i] != sizes[dim] {
				return schemaErrorf(name, "dimension %s has length %d, coordinate has %d", dim, shape[i], sizes[dim])
			}
		}
		if !v.Has(tensor.Time) && (v.Has(tensor.Batch) || v.Has(tensor.Sample)) {
			return schemaErrorf(name, "static variable with dims %v", dims)
		}
	}
	return nil
}

// Require checks that every name is present.
func (d *Dataset) Require(names ...string) error {
	for _, n := range names {
		if _, ok := d.Vars[n]; !ok {
			return schemaErrorf(n, "missing")
		}
	}
	return nil
}

func checkOrder(dims []tensor.Dim) error {
	pos := 0
	for _, d := range dims {
		for pos < len(Order) && Order[pos] != d {
			pos++
		}
		if pos == len(Order) {
			return fmt.Errorf("dims %v are not a subsequence of %v", dims, Order)
		}
		pos++
	}
	return nil
}
