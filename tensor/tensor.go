// Package tensor contains a dense float32 array that carries an ordered list
// of named dimensions.
//
// Dimension names are checked when a Tensor is constructed, so code that
// receives a *Tensor can look axes up by name without re-validating them.
package tensor

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// Dim is the name of one axis of a Tensor.
type Dim string

// Known dimension names. PLevel is the raw isobaric axis produced by
// extraction before it is renamed to Level.
const (
	Sample Dim = "sample"
	Batch  Dim = "batch"
	Time   Dim = "time"
	Level  Dim = "level"
	PLevel Dim = "plevel"
	Lat    Dim = "lat"
	Lon    Dim = "lon"
)

var knownDims = map[Dim]bool{
	Sample: true,
	Batch:  true,
	Time:   true,
	Level:  true,
	PLevel: true,
	Lat:    true,
	Lon:    true,
}

// Tensor is a row-major float32 array. Missing values are NaN.
type Tensor struct {
	dims  []Dim
	shape []int
	data  []float32
}

// New returns a tensor over data. The dimension list must contain known,
// distinct names and len(data) must equal the product of shape.
func New(dims []Dim, shape []int, data []float32) (*Tensor, error) {
	if err := checkDims(dims, shape); err != nil {
		return nil, err
	}
	if got, want := len(data), Product(shape); got != want {
		return nil, fmt.Errorf("tensor %s has %d values, want %d", formatDims(dims, shape), got, want)
	}
	return &Tensor{
		dims:  append([]Dim(nil), dims...),
		shape: append([]int(nil), shape...),
		data:  data,
	}, nil
}

// Full returns a tensor of the given shape with every element set to v.
func Full(dims []Dim, shape []int, v float32) (*Tensor, error) {
	if err := checkDims(dims, shape); err != nil {
		return nil, err
	}
	data := make([]float32, Product(shape))
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	return New(dims, shape, data)
}

// Zeros returns a zero-filled tensor.
func Zeros(dims []Dim, shape []int) (*Tensor, error) {
	return Full(dims, shape, 0)
}

// NaNs returns a tensor filled with missing values.
func NaNs(dims []Dim, shape []int) (*Tensor, error) {
	return Full(dims, shape, float32(math.NaN()))
}

func checkDims(dims []Dim, shape []int) error {
	if len(dims) != len(shape) {
		return fmt.Errorf("got %d dimension names for a %d-dimensional shape", len(dims), len(shape))
	}
	seen := make(map[Dim]bool, len(dims))
	for i, d := range dims {
		if !knownDims[d] {
			return fmt.Errorf("unknown dimension %q", d)
		}
		if seen[d] {
			return fmt.Errorf("dimension %q repeated in %v", d, dims)
		}
		seen[d] = true
		if shape[i] <= 0 {
			return fmt.Errorf("dimension %q has non-positive length %d", d, shape[i])
		}
	}
	return nil
}

// Dims returns a copy of the dimension names.
func (t *Tensor) Dims() []Dim { return append([]Dim(nil), t.dims...) }

// Shape returns a copy of the shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Data returns the underlying values. The slice is shared with t.
func (t *Tensor) Data() []float32 { return t.data }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.dims) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Axis returns the position of d, or -1 when t has no such dimension.
func (t *Tensor) Axis(d Dim) int {
	for i, dd := range t.dims {
		if dd == d {
			return i
		}
	}
	return -1
}

// Has reports whether t has dimension d.
func (t *Tensor) Has(d Dim) bool { return t.Axis(d) >= 0 }

// Size returns the length of dimension d, or 0 if it is absent.
func (t *Tensor) Size(d Dim) int {
	if i := t.Axis(d); i >= 0 {
		return t.shape[i]
	}
	return 0
}

// HasDims reports whether t has exactly the dimensions dims, in order.
func (t *Tensor) HasDims(dims ...Dim) bool {
	if len(dims) != len(t.dims) {
		return false
	}
	for i := range dims {
		if dims[i] != t.dims[i] {
			return false
		}
	}
	return true
}

// Offset converts a multi-dimensional index to a position in Data.
func (t *Tensor) Offset(idx ...int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: got %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, n := range t.shape {
		if idx[i] < 0 || idx[i] >= n {
			panic(fmt.Sprintf("tensor: index %d out of range [0, %d) for dimension %q", idx[i], n, t.dims[i]))
		}
		off = off*n + idx[i]
	}
	return off
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) float32 { return t.data[t.Offset(idx...)] }

// Set stores v at idx.
func (t *Tensor) Set(v float32, idx ...int) { t.data[t.Offset(idx...)] = v }

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		dims:  t.Dims(),
		shape: t.Shape(),
		data:  append([]float32(nil), t.data...),
	}
}

func (t *Tensor) String() string {
	return "tensor" + formatDims(t.dims, t.shape)
}

func formatDims(dims []Dim, shape []int) string {
	parts := make([]string, 0, len(dims))
	for i, d := range dims {
		n := -1
		if i < len(shape) {
			n = shape[i]
		}
		parts = append(parts, fmt.Sprintf("%s: %d", d, n))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// block returns the number of elements before and after axis.
func (t *Tensor) block(axis int) (outer, inner int) {
	outer, inner = 1, 1
	for i, n := range t.shape {
		switch {
		case i < axis:
			outer *= n
		case i > axis:
			inner *= n
		}
	}
	return outer, inner
}

func (t *Tensor) axisOrErr(d Dim) (int, error) {
	i := t.Axis(d)
	if i < 0 {
		return 0, fmt.Errorf("%v has no dimension %q", t, d)
	}
	return i, nil
}

// Select returns a tensor whose dimension d holds the elements at indices.
// An index of -1 produces missing values, which is how reindexing onto a new
// coordinate introduces placeholders.
func (t *Tensor) Select(d Dim, indices []int) (*Tensor, error) {
	axis, err := t.axisOrErr(d)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty selection along %q", d)
	}
	n := t.shape[axis]
	for _, i := range indices {
		if i < -1 || i >= n {
			return nil, fmt.Errorf("index %d out of range for dimension %q of length %d", i, d, n)
		}
	}
	outer, inner := t.block(axis)
	out := make([]float32, outer*len(indices)*inner)
	nan := float32(math.NaN())
	pos := 0
	for o := 0; o < outer; o++ {
		for _, src := range indices {
			dst := out[pos : pos+inner]
			if src < 0 {
				for k := range dst {
					dst[k] = nan
				}
			} else {
				start := (o*n + src) * inner
				copy(dst, t.data[start:start+inner])
			}
			pos += inner
		}
	}
	shape := t.Shape()
	shape[axis] = len(indices)
	return New(t.dims, shape, out)
}

// Take returns the slice at index i of dimension d with that dimension removed.
func (t *Tensor) Take(d Dim, i int) (*Tensor, error) {
	s, err := t.Select(d, []int{i})
	if err != nil {
		return nil, err
	}
	return s.Squeeze(d)
}

// Squeeze removes dimension d, which must have length 1.
func (t *Tensor) Squeeze(d Dim) (*Tensor, error) {
	axis, err := t.axisOrErr(d)
	if err != nil {
		return nil, err
	}
	if t.shape[axis] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %q of length %d", d, t.shape[axis])
	}
	dims := append(t.Dims()[:axis], t.dims[axis+1:]...)
	shape := append(t.Shape()[:axis], t.shape[axis+1:]...)
	return New(dims, shape, t.data)
}

// Expand inserts a new dimension d of length 1 at position pos.
func (t *Tensor) Expand(d Dim, pos int) (*Tensor, error) {
	if pos < 0 || pos > len(t.dims) {
		return nil, fmt.Errorf("cannot insert %q at position %d of rank %d", d, pos, len(t.dims))
	}
	dims := make([]Dim, 0, len(t.dims)+1)
	dims = append(dims, t.dims[:pos]...)
	dims = append(dims, d)
	dims = append(dims, t.dims[pos:]...)
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:pos]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[pos:]...)
	return New(dims, shape, t.data)
}

// Repeat inserts a new dimension d of length n at position pos, copying t into
// every slot.
func (t *Tensor) Repeat(d Dim, pos, n int) (*Tensor, error) {
	e, err := t.Expand(d, pos)
	if err != nil {
		return nil, err
	}
	return e.Select(d, make([]int, n))
}

// Reverse flips the order of dimension d.
func (t *Tensor) Reverse(d Dim) (*Tensor, error) {
	axis, err := t.axisOrErr(d)
	if err != nil {
		return nil, err
	}
	n := t.shape[axis]
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	return t.Select(d, idx)
}

// Rename returns t with dimension from renamed to to. The data is shared.
func (t *Tensor) Rename(from, to Dim) (*Tensor, error) {
	axis, err := t.axisOrErr(from)
	if err != nil {
		return nil, err
	}
	dims := t.Dims()
	dims[axis] = to
	return New(dims, t.shape, t.data)
}

// Map returns a new tensor with f applied to every element.
func (t *Tensor) Map(f func(float32) float32) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// Scale returns t multiplied by s. Missing values stay missing.
func (t *Tensor) Scale(s float64) *Tensor {
	return t.Map(func(v float32) float32 { return float32(float64(v) * s) })
}

// CumSum returns the running sum along dimension d. A missing value makes
// every later element of its series missing.
func (t *Tensor) CumSum(d Dim) (*Tensor, error) {
	axis, err := t.axisOrErr(d)
	if err != nil {
		return nil, err
	}
	n := t.shape[axis]
	outer, inner := t.block(axis)
	out := t.Clone()
	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			var sum float32
			for i := 0; i < n; i++ {
				p := (o*n+i)*inner + k
				sum += out.data[p]
				out.data[p] = sum
			}
		}
	}
	return out, nil
}

// Stack joins tensors of identical dims and shape along a new leading
// dimension d.
func Stack(d Dim, ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("nothing to stack along %q", d)
	}
	first := ts[0]
	data := make([]float32, 0, len(ts)*first.Len())
	for i, t := range ts {
		if !t.HasDims(first.dims...) || !sameShape(t.shape, first.shape) {
			return nil, fmt.Errorf("cannot stack %v with %v at position %d", t, first, i)
		}
		data = append(data, t.data...)
	}
	dims := append([]Dim{d}, first.dims...)
	shape := append([]int{len(ts)}, first.shape...)
	return New(dims, shape, data)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Product returns the product of xs, 1 for an empty slice.
func Product[T constraints.Integer](xs []T) T {
	var p T = 1
	for _, x := range xs {
		p *= x
	}
	return p
}

// Cast converts a slice between numeric element types.
func Cast[U, T constraints.Integer | constraints.Float](in []T) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = U(v)
	}
	return out
}
