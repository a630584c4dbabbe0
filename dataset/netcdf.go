package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	timeUnits     = "hours"
	datetimeUnits = "hours since 1970-01-01 00:00:00"
)

var coordinates = map[string]bool{"lat": true, "lon": true, "level": true, "time": true, "datetime": true}

// WriteFile validates d and writes it as a classic netCDF file. The file is
// written next to path and renamed into place, so path either holds the
// complete dataset or is left untouched.
func (d *Dataset) WriteFile(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	dims := []string{"lat", "lon"}
	lengths := []int{len(d.Lat), len(d.Lon)}
	if len(d.Level) > 0 {
		dims, lengths = append(dims, "level"), append(lengths, len(d.Level))
	}
	if len(d.Time) > 0 {
		dims, lengths = append(dims, "time"), append(lengths, len(d.Time))
	}
	if d.Batch() > 0 {
		dims, lengths = append(dims, "batch"), append(lengths, d.Batch())
	}
	if n := d.Samples(); n > 0 {
		dims, lengths = append(dims, "sample"), append(lengths, n)
	}

	h := cdf.NewHeader(dims, lengths)
	for _, k := range sortedKeys(d.Attrs) {
		h.AddAttribute("", k, d.Attrs[k])
	}
	h.AddVariable("lat", []string{"lat"}, []float32{0})
	h.AddAttribute("lat", "long_name", "latitude")
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float32{0})
	h.AddAttribute("lon", "long_name", "longitude")
	h.AddAttribute("lon", "units", "degrees_east")
	if len(d.Level) > 0 {
		h.AddVariable("level", []string{"level"}, []int32{0})
		h.AddAttribute("level", "long_name", "pressure level")
		h.AddAttribute("level", "units", "hPa")
	}
	if len(d.Time) > 0 {
		h.AddVariable("time", []string{"time"}, []float64{0})
		h.AddAttribute("time", "units", timeUnits)
	}
	if d.Batch() > 0 {
		h.AddVariable("datetime", []string{"batch", "time"}, []float64{0})
		h.AddAttribute("datetime", "units", datetimeUnits)
		h.AddAttribute("datetime", "calendar", "proleptic_gregorian")
	}
	names := d.Names()
	for _, name := range names {
		v := d.Vars[name]
		vdims := make([]string, 0, v.Rank())
		for _, dim := range v.Dims() {
			vdims = append(vdims, string(dim))
		}
		h.AddVariable(name, vdims, []float32{0})
		h.AddAttribute(name, "_FillValue", []float32{float32(math.NaN())})
	}
	h.Define()
	for _, err := range h.Check() {
		return errors.Wrapf(err, "error defining %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	f, err := cdf.Create(tmp, h)
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
	if err := write("lat", d.Lat); err != nil {
		return err
	}
	if err := write("lon", d.Lon); err != nil {
		return err
	}
	if len(d.Level) > 0 {
		if err := write("level", d.Level); err != nil {
			return err
		}
	}
	if len(d.Time) > 0 {
		hours := make([]float64, len(d.Time))
		for i, t := range d.Time {
			hours[i] = t.Hours()
		}
		if err := write("time", hours); err != nil {
			return err
		}
	}
	if d.Batch() > 0 {
		hours := make([]float64, 0, d.Batch()*len(d.Time))
		for _, row := range d.Datetime {
			for _, t := range row {
				hours = append(hours, float64(t.Unix())/3600)
			}
		}
		if err := write("datetime", hours); err != nil {
			return err
		}
	}
	for _, name := range names {
		if err := write(name, d.Vars[name].Data()); err != nil {
			return err
		}
	}
	if err := cdf.UpdateNumRecs(tmp); err != nil {
		return errors.Wrapf(err, "error updating record count of %s", path)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	ok = true
	glog.Infof("wrote %d variables to %s", len(names), path)
	return nil
}

// ReadFile reads a dataset written by WriteFile or by the forecast model,
// which may be netCDF-4. Variables over dimensions outside Order are skipped.
func ReadFile(path string) (*Dataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s", path)
	}
	defer nc.Close()

	d := &Dataset{Vars: map[string]*tensor.Tensor{}, Attrs: map[string]string{}}
	if attrs := nc.Attributes(); attrs != nil {
		for _, k := range attrs.Keys() {
			if v, ok := attrs.Get(k); ok {
				if s, ok := v.(string); ok {
					d.Attrs[k] = s
				}
			}
		}
	}
	lat, err := readCoordinate(nc, "lat")
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	lon, err := readCoordinate(nc, "lon")
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	d.Lat, d.Lon = tensor.Cast[float32](lat), tensor.Cast[float32](lon)

	vars := map[string]bool{}
	for _, name := range nc.ListVariables() {
		vars[name] = true
	}
	if vars["level"] {
		level, err := readCoordinate(nc, "level")
		if err != nil {
			return nil, errors.Wrapf(err, "error reading %s", path)
		}
		d.Level = make([]int32, len(level))
		for i, l := range level {
			d.Level[i] = int32(math.Round(l))
		}
	}
	if vars["time"] {
		if d.Time, err = readDurations(nc); err != nil {
			return nil, errors.Wrapf(err, "error reading %s", path)
		}
	}
	if vars["datetime"] {
		if d.Datetime, err = readDatetimes(nc, len(d.Time)); err != nil {
			return nil, errors.Wrapf(err, "error reading %s", path)
		}
	}

	for _, name := range nc.ListVariables() {
		if coordinates[name] {
			continue
		}
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading %s from %s", name, path)
		}
		dims, ok := knownDims(v.Dimensions)
		if !ok {
			glog.Warningf("skipping %s%v in %s", name, v.Dimensions, path)
			continue
		}
		t, err := tensor.FromNested(dims, v.Values)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading %s from %s", name, path)
		}
		if fill, ok := fillValue(v.Attributes); ok {
			data := t.Data()
			for i, x := range data {
				if x == fill {
					data[i] = float32(math.NaN())
				}
			}
		}
		d.Vars[name] = t
	}
	glog.Infof("read %d variables from %s", len(d.Vars), path)
	return d, nil
}

func knownDims(names []string) ([]tensor.Dim, bool) {
	out := make([]tensor.Dim, len(names))
	for i, n := range names {
		found := false
		for _, d := range Order {
			if string(d) == n {
				out[i], found = d, true
			}
		}
		if !found {
			return nil, false
		}
	}
	return out, len(out) > 0
}

func readCoordinate(nc api.Group, name string) ([]float64, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("no %s coordinate: %w", name, err)
	}
	data, _, err := tensor.Flatten64(v.Values)
	return data, err
}

func readDurations(nc api.Group) ([]time.Duration, error) {
	v, err := nc.GetVariable("time")
	if err != nil {
		return nil, err
	}
	data, _, err := tensor.Flatten64(v.Values)
	if err != nil {
		return nil, err
	}
	unit, _, err := parseUnits(stringAttribute(v.Attributes, "units", timeUnits))
	if err != nil {
		return nil, err
	}
	out := make([]time.Duration, len(data))
	for i, x := range data {
		out[i] = time.Duration(math.Round(x * float64(unit)))
	}
	return out, nil
}

func readDatetimes(nc api.Group, steps int) ([][]time.Time, error) {
	v, err := nc.GetVariable("datetime")
	if err != nil {
		return nil, err
	}
	data, _, err := tensor.Flatten64(v.Values)
	if err != nil {
		return nil, err
	}
	unit, epoch, err := parseUnits(stringAttribute(v.Attributes, "units", datetimeUnits))
	if err != nil {
		return nil, err
	}
	if steps == 0 || len(data)%steps != 0 {
		return nil, fmt.Errorf("%d datetime values for %d time steps", len(data), steps)
	}
	out := make([][]time.Time, len(data)/steps)
	for b := range out {
		out[b] = make([]time.Time, steps)
		for i := range out[b] {
			out[b][i] = epoch.Add(time.Duration(math.Round(data[b*steps+i] * float64(unit))))
		}
	}
	return out, nil
}

// parseUnits parses CF time units such as "hours" or
// "seconds since 1970-01-01 00:00:00".
func parseUnits(units string) (time.Duration, time.Time, error) {
	name, since, _ := strings.Cut(strings.TrimSpace(units), " since ")
	var unit time.Duration
	switch strings.TrimSuffix(strings.ToLower(name), "s") {
	case "day":
		unit = 24 * time.Hour
	case "hour":
		unit = time.Hour
	case "minute":
		unit = time.Minute
	case "second":
		unit = time.Second
	case "millisecond":
		unit = time.Millisecond
	case "microsecond":
		unit = time.Microsecond
	case "nanosecond":
		unit = time.Nanosecond
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	epoch := time.Unix(0, 0).UTC()
	if since != "" {
		var err error
		epoch, err = parseEpoch(since)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("unsupported time units %q: %w", units, err)
		}
	}
	return unit, epoch, nil
}

func parseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func stringAttribute(attrs api.AttributeMap, key, def string) string {
	if attrs == nil {
		return def
	}
	if v, ok := attrs.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func fillValue(attrs api.AttributeMap) (float32, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get("_FillValue")
	if !ok {
		return 0, false
	}
	var f float64
	switch x := v.(type) {
	case float32:
		f = float64(x)
	case float64:
		f = x
	case []float32:
		if len(x) == 0 {
			return 0, false
		}
		f = float64(x[0])
	case []float64:
		if len(x) == 0 {
			return 0, false
		}
		f = x[0]
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return float32(f), true
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
