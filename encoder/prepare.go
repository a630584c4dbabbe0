package encoder

import (
	"fmt"
	"sort"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
)

// prepared is one forecast member in GRIB2 units: latitude north to south,
// levels in Pa, no batch axis and variables in table order.
type prepared struct {
	lat, lon []float64
	levels   []float64
	leads    []int
	vars     []preparedVar
}

type preparedVar struct {
	v catalog.Variable
	// data is (time, [level], lat, lon).
	data *tensor.Tensor
}

func (p *prepared) names() []string {
	out := make([]string, len(p.vars))
	for i, pv := range p.vars {
		out[i] = pv.v.String()
	}
	return out
}

// precipSteps are the per-step precipitation channels that have a running
// total.
var precipSteps = map[catalog.Variable]bool{
	catalog.TotalPrecipitation6hr:  true,
	catalog.TotalPrecipitation12hr: true,
}

func prepare(ds *dataset.Dataset, drop []string) (*prepared, error) {
	if ds.Samples() > 0 {
		return nil, &EncodingError{Reason: "dataset still has a sample axis"}
	}
	if n := ds.Batch(); n > 1 {
		return nil, &EncodingError{Reason: fmt.Sprintf("batch of %d, want 1", n)}
	}
	p := &prepared{
		lat: make([]float64, len(ds.Lat)),
		lon: tensor.Cast[float64](ds.Lon),
	}
	for i, l := range ds.Lat {
		p.lat[len(ds.Lat)-1-i] = float64(l)
	}
	for _, l := range ds.Level {
		p.levels = append(p.levels, float64(l)*100)
	}
	for _, t := range ds.Time {
		if t%time.Hour != 0 {
			return nil, &EncodingError{Reason: fmt.Sprintf("lead time %v is not a whole number of hours", t)}
		}
		p.leads = append(p.leads, int(t/time.Hour))
	}

	skip := map[string]bool{}
	for _, name := range drop {
		skip[name] = true
	}
	have := map[catalog.Variable]bool{}
	for _, name := range ds.Names() {
		if skip[name] {
			glog.V(1).Infof("dropping %s before encoding", name)
			continue
		}
		v, ok := catalog.Lookup(name)
		src := ds.Vars[name]
		if ok && !src.Has(tensor.Time) {
			glog.Warningf("skipping static variable %s", name)
			continue
		}
		if !ok || !v.Info().Encoded {
			return nil, &EncodingError{Variable: name, Reason: "no GRIB2 table entry"}
		}
		data, err := reverse(src, v.Info())
		if err != nil {
			return nil, &EncodingError{Variable: name, Reason: err.Error()}
		}
		p.vars = append(p.vars, preparedVar{v: v, data: data})
		have[v] = true
	}
	for _, pv := range p.vars {
		if !precipSteps[pv.v] || have[catalog.TotalPrecipitation] {
			continue
		}
		total, err := pv.data.CumSum(tensor.Time)
		if err != nil {
			return nil, &EncodingError{Variable: catalog.TotalPrecipitation.String(), Reason: err.Error()}
		}
		p.vars = append(p.vars, preparedVar{v: catalog.TotalPrecipitation, data: total})
		have[catalog.TotalPrecipitation] = true
	}
	sort.Slice(p.vars, func(i, j int) bool { return p.vars[i].v < p.vars[j].v })
	return p, nil
}

// reverse undoes the canonical unit conversion and orders latitude north to
// south.
func reverse(t *tensor.Tensor, info catalog.Info) (*tensor.Tensor, error) {
	var err error
	if t.Has(tensor.Batch) {
		if t, err = t.Squeeze(tensor.Batch); err != nil {
			return nil, err
		}
	}
	want := []tensor.Dim{tensor.Time, tensor.Lat, tensor.Lon}
	if info.Leveled() {
		want = []tensor.Dim{tensor.Time, tensor.Level, tensor.Lat, tensor.Lon}
	}
	if !t.HasDims(want...) {
		return nil, fmt.Errorf("dims %v, want %v", t.Dims(), want)
	}
	if t, err = t.Reverse(tensor.Lat); err != nil {
		return nil, err
	}
	if info.Scale != 1 {
		t = t.Scale(1 / info.Scale)
	}
	return t, nil
}
