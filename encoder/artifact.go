package encoder

import (
	"fmt"
	"os"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/ctessum/cdf"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ArtifactName is the intermediate netCDF file written next to the GRIB2
// outputs of one member.
const ArtifactName = "forecast_to_grib2.nc"

func writeArtifact(path string, p *prepared) error {
	dims := []string{"time", "lat", "lon"}
	lengths := []int{len(p.leads), len(p.lat), len(p.lon)}
	if len(p.levels) > 0 {
		dims = append(dims, "level")
		lengths = append(lengths, len(p.levels))
	}
	h := cdf.NewHeader(dims, lengths)
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "hours")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	if len(p.levels) > 0 {
		h.AddVariable("level", []string{"level"}, []float64{0})
		h.AddAttribute("level", "long_name", "pressure")
		h.AddAttribute("level", "units", "Pa")
	}
	for _, pv := range p.vars {
		info := pv.v.Info()
		vd := []string{"time", "lat", "lon"}
		if info.Leveled() {
			vd = []string{"time", "level", "lat", "lon"}
		}
		h.AddVariable(info.Name, vd, []float32{0})
		h.AddAttribute(info.Name, "standard_name", info.Physical)
		h.AddAttribute(info.Name, "units", info.Units)
	}
	h.Define()
	for _, err := range h.Check() {
		return errors.Wrapf(err, "error defining %s", path)
	}

	ff, err := os.Create(path)
	if err != nil {
		return err
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	write := func(name string, data interface{}) error {
		end := f.Header.Lengths(name)
		if _, err := f.Writer(name, make([]int, len(end)), end).Write(data); err != nil {
			return errors.Wrapf(err, "error writing %s to %s", name, path)
		}
		return nil
	}
	leads := make([]float64, len(p.leads))
	for i, l := range p.leads {
		leads[i] = float64(l)
	}
	coords := []struct {
		name string
		data []float64
	}{{"time", leads}, {"lat", p.lat}, {"lon", p.lon}}
	if len(p.levels) > 0 {
		coords = append(coords, struct {
			name string
			data []float64
		}{"level", p.levels})
	}
	for _, c := range coords {
		if err := write(c.name, c.data); err != nil {
			return err
		}
	}
	for _, pv := range p.vars {
		if err := write(pv.v.String(), pv.data.Data()); err != nil {
			return err
		}
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		return errors.Wrapf(err, "error updating record count of %s", path)
	}
	if err := ff.Close(); err != nil {
		return err
	}
	glog.V(1).Infof("wrote intermediate %s with %d variables", path, len(p.vars))
	return nil
}

// artifact reads the intermediate file one horizontal slab at a time.
type artifact struct {
	ff *os.File
	f  *cdf.File

	lat, lon []float64
	levels   []float64
	leads    []int
	vars     []catalog.Variable
}

func openArtifact(path string) (*artifact, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := cdf.Open(ff)
	if err != nil {
		ff.Close()
		return nil, errors.Wrapf(err, "error opening %s", path)
	}
	a := &artifact{ff: ff, f: f}
	read := func(name string) ([]float64, error) {
		if len(f.Header.Lengths(name)) == 0 {
			return nil, nil
		}
		r := f.Reader(name, nil, nil)
		buf := r.Zero(-1)
		if _, err := r.Read(buf); err != nil {
			return nil, errors.Wrapf(err, "error reading %s from %s", name, path)
		}
		out, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("%s in %s has type %T", name, path, buf)
		}
		return out, nil
	}
	var leads []float64
	for _, c := range []struct {
		name string
		dst  *[]float64
	}{{"time", &leads}, {"lat", &a.lat}, {"lon", &a.lon}, {"level", &a.levels}} {
		if *c.dst, err = read(c.name); err != nil {
			a.Close()
			return nil, err
		}
	}
	for _, l := range leads {
		a.leads = append(a.leads, int(l))
	}
	for _, name := range f.Header.Variables() {
		if v, ok := catalog.Lookup(name); ok {
			a.vars = append(a.vars, v)
		}
	}
	return a, nil
}

// slab returns the (lat, lon) values of v at time index t and level index k.
func (a *artifact) slab(v catalog.Variable, t, k int) ([]float32, error) {
	name := v.String()
	dims := a.f.Header.Dimensions(name)
	begin := make([]int, len(dims))
	end := make([]int, len(dims))
	begin[0], end[0] = t, t+1
	if len(dims) == 4 {
		begin[0], end[0] = t, t
		begin[1], end[1] = k, k+1
	}
	r := a.f.Reader(name, begin, end)
	buf := r.Zero(len(a.lat) * len(a.lon))
	if _, err := r.Read(buf); err != nil {
		return nil, errors.Wrapf(err, "error reading %s at step %d", name, t)
	}
	return buf.([]float32), nil
}

func (a *artifact) Close() error { return a.ff.Close() }
