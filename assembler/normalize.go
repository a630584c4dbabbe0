package assembler

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/field"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
)

// Normalize renames m to the canonical schema of p: float32 lat/lon, int32
// levels, time relative to the first step, a datetime row for the single
// batch, static fields without time or batch, and canonical units. It returns
// either a dataset that validates or an error.
func Normalize(m *Merged, p catalog.Profile) (*dataset.Dataset, error) {
	rename := p.Rename()
	wanted := map[string]bool{}
	var names []string
	for _, v := range p.Variables() {
		wanted[v.String()] = true
		names = append(names, v.String())
	}

	d := &dataset.Dataset{
		Lat:   tensor.Cast[float32](m.Lat),
		Lon:   tensor.Cast[float32](m.Lon),
		Vars:  map[string]*tensor.Tensor{},
		Attrs: map[string]string{"source": string(p.Family), "levels": strconv.Itoa(p.Levels)},
	}
	if len(m.Times) > 0 {
		d.Time = make([]time.Duration, len(m.Times))
		for i, t := range m.Times {
			d.Time[i] = t.Sub(m.Times[0])
		}
		d.Datetime = [][]time.Time{append([]time.Time(nil), m.Times...)}
	}
	leveled := false
	for raw, v := range m.Vars {
		name, ok := rename[raw]
		if !ok && wanted[raw] {
			name, ok = raw, true
		}
		if !ok || !wanted[name] {
			return nil, &dataset.SchemaError{Variable: raw, Reason: fmt.Sprintf("not part of the %s/%d schema", p.Family, p.Levels)}
		}
		if _, dup := d.Vars[name]; dup {
			return nil, &dataset.SchemaError{Variable: name, Reason: "produced by more than one source variable"}
		}
		cv, _ := catalog.Lookup(name)
		out, err := canonical(v, cv.Info())
		if err != nil {
			return nil, &dataset.SchemaError{Variable: name, Reason: err.Error()}
		}
		leveled = leveled || out.Has(tensor.Level)
		d.Vars[name] = out
	}
	if leveled {
		d.Level = make([]int32, len(m.Levels))
		for i, l := range m.Levels {
			if l != math.Trunc(l) {
				return nil, &dataset.SchemaError{Reason: fmt.Sprintf("fractional pressure level %g", l)}
			}
			d.Level[i] = int32(l)
		}
	}
	if err := d.Require(names...); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	glog.Infof("normalized %d variables: %d levels, %d steps", len(d.Vars), len(d.Level), len(d.Time))
	return d, nil
}

func canonical(v *tensor.Tensor, info catalog.Info) (*tensor.Tensor, error) {
	var err error
	if info.Leveled() != v.Has(tensor.PLevel) {
		return nil, fmt.Errorf("dims %v do not match level type %v", v.Dims(), info.LevelType)
	}
	if v.Has(tensor.Level) {
		return nil, fmt.Errorf("raw level axis still present in %v", v.Dims())
	}
	if info.Leveled() {
		if v, err = v.Rename(tensor.PLevel, tensor.Level); err != nil {
			return nil, err
		}
	}
	if info.Static {
		if v.Has(tensor.Time) {
			if v, err = v.Take(tensor.Time, 0); err != nil {
				return nil, err
			}
		}
	} else {
		if !v.Has(tensor.Time) {
			return nil, fmt.Errorf("time-varying variable without a time axis")
		}
		if v, err = v.Expand(tensor.Batch, 0); err != nil {
			return nil, err
		}
	}
	if info.Scale != 1 {
		v = v.Scale(info.Scale)
	}
	return v, nil
}

// Assemble runs the whole assembly chain over the fields of one product:
// merge, drop the raw level axis, derive precipitation, mask SST and
// normalize.
func Assemble(fields []*field.LabeledField, p catalog.Profile) (*dataset.Dataset, error) {
	m, err := Merge(fields)
	if err != nil {
		return nil, err
	}
	if m, err = DropLevel(m); err != nil {
		return nil, err
	}
	if m, err = DerivePrecipitation(m, p); err != nil {
		return nil, err
	}
	if m, err = MaskSST(m, p); err != nil {
		return nil, err
	}
	return Normalize(m, p)
}
