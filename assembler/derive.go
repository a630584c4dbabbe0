package assembler

import (
	"fmt"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
)

// Raw names of the inputs of derived fields.
const (
	rawPrecip = "APCP_surface"
	rawSST    = "TMP_surface"
	rawLand   = "LAND_surface"
)

// DropLevel removes the singleton raw level axis of single-level variables.
func DropLevel(m *Merged) (*Merged, error) {
	out := m.copy()
	for name, v := range m.Vars {
		if !v.Has(tensor.Level) {
			continue
		}
		if n := v.Size(tensor.Level); n != 1 {
			return nil, &dataset.SchemaError{Variable: name, Reason: fmt.Sprintf("raw level axis has %d entries, want 1", n)}
		}
		s, err := v.Squeeze(tensor.Level)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = s
	}
	return out, nil
}

// DerivePrecipitation replaces the extracted accumulation with the
// precipitation channel of the profile.
func DerivePrecipitation(m *Merged, p catalog.Profile) (*Merged, error) {
	out := m.copy()
	name := p.PrecipVariable().String()
	src, ok := m.Vars[rawPrecip]
	delete(out.Vars, rawPrecip)

	switch p.Precip() {
	case catalog.PrecipZero:
		if len(m.Times) == 0 {
			return nil, &dataset.SchemaError{Variable: name, Reason: "no time axis to fill"}
		}
		z, err := tensor.Zeros([]tensor.Dim{tensor.Time, tensor.Lat, tensor.Lon}, []int{len(m.Times), len(m.Lat), len(m.Lon)})
		if err != nil {
			return nil, err
		}
		out.Vars[name] = z
	case catalog.PrecipDirect, catalog.PrecipCumulative:
		if !ok {
			return nil, &dataset.SchemaError{Variable: rawPrecip, Reason: "missing"}
		}
		if !src.HasDims(tensor.Time, tensor.Lat, tensor.Lon) {
			return nil, &dataset.SchemaError{Variable: rawPrecip, Reason: fmt.Sprintf("dims %v, want (time, lat, lon)", src.Dims())}
		}
		if p.Precip() == catalog.PrecipCumulative {
			var err error
			if src, err = src.CumSum(tensor.Time); err != nil {
				return nil, err
			}
		}
		out.Vars[name] = src
	}
	glog.V(1).Infof("derived %s", name)
	return out, nil
}

// MaskSST sets sea surface temperature to missing wherever the land sea mask
// is positive. A mask value of exactly 0 is sea.
func MaskSST(m *Merged, p catalog.Profile) (*Merged, error) {
	if !p.MaskSST() {
		return m, nil
	}
	sst, ok := m.Vars[rawSST]
	if !ok {
		return nil, &dataset.SchemaError{Variable: rawSST, Reason: "missing"}
	}
	land, ok := m.Vars[rawLand]
	if !ok {
		return nil, &dataset.SchemaError{Variable: rawLand, Reason: "missing"}
	}
	if land.Has(tensor.Time) {
		var err error
		if land, err = land.Take(tensor.Time, 0); err != nil {
			return nil, err
		}
	}
	if !land.HasDims(tensor.Lat, tensor.Lon) {
		return nil, &dataset.SchemaError{Variable: rawLand, Reason: fmt.Sprintf("dims %v, want (lat, lon)", land.Dims())}
	}
	if !sst.HasDims(tensor.Time, tensor.Lat, tensor.Lon) && !sst.HasDims(tensor.Lat, tensor.Lon) {
		return nil, &dataset.SchemaError{Variable: rawSST, Reason: fmt.Sprintf("dims %v, want (time, lat, lon)", sst.Dims())}
	}
	mask := land.Data()
	masked := sst.Clone()
	data := masked.Data()
	for i := range data {
		if mask[i%len(mask)] > 0 {
			data[i] = nan()
		}
	}
	out := m.copy()
	out.Vars[rawSST] = masked
	return out, nil
}
