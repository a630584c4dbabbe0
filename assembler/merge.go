// Package assembler merges materialized fields into one dataset and applies
// the renames, derived fields and unit conversions of a product profile.
package assembler

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/NOAA-EMC/MLGEFS/field"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats/scalar"
)

// CoordinateTolerance is the largest lat/lon difference in degrees accepted
// between merged fields.
const CoordinateTolerance = 1e-6

// MergeConflictError reports fields that disagree on a shared coordinate or
// that both claim the same slot.
type MergeConflictError struct {
	Variable   string
	Coordinate string
	File       string
	Reason     string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict on %s for %s from %s: %s", e.Coordinate, e.Variable, e.File, e.Reason)
}

// Merged is the outer join of fields before renaming. Time-varying variables
// have a leading time axis over Times. Isobaric variables have a plevel axis
// over Levels. Other variables keep the raw level axis of their fixed heights.
type Merged struct {
	Lat, Lon []float64
	// Levels are ascending in hPa.
	Levels []float64
	Times  []time.Time
	Vars   map[string]*tensor.Tensor
}

func (m *Merged) copy() *Merged {
	out := *m
	out.Vars = make(map[string]*tensor.Tensor, len(m.Vars))
	for k, v := range m.Vars {
		out.Vars[k] = v
	}
	return &out
}

type slot struct {
	time, level int
}

// Merge joins fields on time and level. Lat and lon must agree within
// CoordinateTolerance. Secondary fields only fill slots no primary field
// provides.
func Merge(fields []*field.LabeledField) (*Merged, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to merge")
	}
	first := fields[0]
	m := &Merged{
		Lat:  append([]float64(nil), first.Lat...),
		Lon:  append([]float64(nil), first.Lon...),
		Vars: map[string]*tensor.Tensor{},
	}

	times := map[int64]bool{}
	levels := map[float64]bool{}
	heights := map[string]map[float64]bool{}
	static := map[string]bool{}
	for _, f := range fields {
		if err := sameAxis(f, "lat", f.Lat, m.Lat); err != nil {
			return nil, err
		}
		if err := sameAxis(f, "lon", f.Lon, m.Lon); err != nil {
			return nil, err
		}
		if s, ok := static[f.Name]; ok && s != f.Static {
			return nil, &MergeConflictError{Variable: f.Name, Coordinate: "time", File: f.File,
				Reason: "field is static in one source and time-varying in another"}
		}
		static[f.Name] = f.Static
		if !f.Static {
			times[f.Time.Unix()] = true
		}
		if f.Data.Has(tensor.PLevel) {
			for _, l := range f.Levels {
				levels[l] = true
			}
		} else {
			if heights[f.Name] == nil {
				heights[f.Name] = map[float64]bool{}
			}
			heights[f.Name][f.Height] = true
		}
	}
	for t := range times {
		m.Times = append(m.Times, time.Unix(t, 0).UTC())
	}
	sort.Slice(m.Times, func(i, j int) bool { return m.Times[i].Before(m.Times[j]) })
	for l := range levels {
		m.Levels = append(m.Levels, l)
	}
	sort.Float64s(m.Levels)

	ordered := make([]*field.LabeledField, 0, len(fields))
	for _, f := range fields {
		if !f.Secondary {
			ordered = append(ordered, f)
		}
	}
	for _, f := range fields {
		if f.Secondary {
			ordered = append(ordered, f)
		}
	}

	ny, nx := len(m.Lat), len(m.Lon)
	filled := map[string]map[slot]bool{}
	for _, f := range ordered {
		axis := m.Levels
		axisDim := tensor.PLevel
		if !f.Data.Has(tensor.PLevel) {
			axis = sortedKeys(heights[f.Name])
			axisDim = tensor.Level
		}
		v, ok := m.Vars[f.Name]
		if !ok {
			dims := []tensor.Dim{axisDim, tensor.Lat, tensor.Lon}
			shape := []int{len(axis), ny, nx}
			if !f.Static {
				dims = append([]tensor.Dim{tensor.Time}, dims...)
				shape = append([]int{len(m.Times)}, shape...)
			}
			var err error
			if v, err = tensor.NaNs(dims, shape); err != nil {
				return nil, err
			}
			m.Vars[f.Name] = v
			filled[f.Name] = map[slot]bool{}
		}

		ti := 0
		if !f.Static {
			ti = indexOfTime(m.Times, f.Time)
		}
		src := f.Data.Data()
		dst := v.Data()
		grid := ny * nx
		fieldLevels := f.Levels
		if !f.Data.Has(tensor.PLevel) {
			fieldLevels = []float64{f.Height}
		}
		for k, l := range fieldLevels {
			li := indexOf(axis, l)
			s := slot{ti, li}
			if filled[f.Name][s] {
				if f.Secondary {
					glog.V(1).Infof("keeping primary %s at %g for %v over %s", f.Name, l, f.Time, f.File)
					continue
				}
				return nil, &MergeConflictError{Variable: f.Name, Coordinate: string(axisDim), File: f.File,
					Reason: fmt.Sprintf("level %g at %v provided twice", l, f.Time.UTC())}
			}
			filled[f.Name][s] = true
			off := (ti*len(axis) + li) * grid
			copy(dst[off:off+grid], src[k*grid:(k+1)*grid])
		}
	}
	glog.Infof("merged %d fields into %d variables over %d times and %d levels",
		len(fields), len(m.Vars), len(m.Times), len(m.Levels))
	return m, nil
}

func sameAxis(f *field.LabeledField, name string, got, want []float64) error {
	if len(got) != len(want) {
		return &MergeConflictError{Variable: f.Name, Coordinate: name, File: f.File,
			Reason: fmt.Sprintf("%d points, want %d", len(got), len(want))}
	}
	for i := range got {
		if !scalar.EqualWithinAbs(got[i], want[i], CoordinateTolerance) {
			return &MergeConflictError{Variable: f.Name, Coordinate: name, File: f.File,
				Reason: fmt.Sprintf("%s[%d] = %g, want %g", name, i, got[i], want[i])}
		}
	}
	return nil
}

func indexOfTime(ts []time.Time, t time.Time) int {
	for i, x := range ts {
		if x.Unix() == t.Unix() {
			return i
		}
	}
	return -1
}

func indexOf(xs []float64, x float64) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

func sortedKeys(m map[float64]bool) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func nan() float32 { return float32(math.NaN()) }
