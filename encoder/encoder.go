// Package encoder writes forecast datasets as GRIB2 files, one file per lead
// time, undoing the unit conversions applied during assembly.
package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/grib2"
	"github.com/NOAA-EMC/MLGEFS/metrics"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/NOAA-EMC/MLGEFS/wgrib2"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// GridEncoder writes one field as a GRIB2 message. grib2.Writer implements it.
type GridEncoder interface {
	Encode(w io.Writer, f *grib2.Field) error
}

// EncodingError reports a variable or window that cannot be written.
type EncodingError struct {
	Variable string
	Level    float64
	File     string
	Reason   string
}

func (e *EncodingError) Error() string {
	msg := "encoding"
	if e.Variable != "" {
		msg += " " + e.Variable
	}
	if e.Level != 0 {
		msg += fmt.Sprintf(" at %g Pa", e.Level)
	}
	if e.File != "" {
		msg += " into " + e.File
	}
	return msg + ": " + e.Reason
}

// DefaultDrop lists the variables dropped when Options.Drop is nil.
var DefaultDrop = []string{catalog.SeaSurfaceTemperature.String()}

// RegionDir is the subdirectory of regional subsets.
const RegionDir = "north_america"

// Options configures an Encoder.
type Options struct {
	// Product is the output file stem, e.g. "graphcastgfs".
	Product string
	// Init is the forecast start. Lead times are relative to it. A zero Init
	// is derived from the first datetime of the dataset.
	Init time.Time
	// Cadence is the length of the per-step precipitation window.
	Cadence time.Duration
	// Drop lists variables removed before encoding.
	Drop []string
	// Region, when set, subsets every output file into RegionDir.
	Region *wgrib2.Region
	Runner wgrib2.Runner
}

// Encoder writes forecasts with a GridEncoder.
type Encoder struct {
	Grid    GridEncoder
	Options Options
	Metrics *metrics.Metrics
}

// New returns an Encoder using the native GRIB2 writer.
func New(opts Options) *Encoder {
	return &Encoder{Grid: grib2.Writer{}, Options: opts}
}

// FileName returns the output name of a lead time.
func FileName(product string, cycle, lead int) string {
	return fmt.Sprintf("%s.t%02dz.pgrb2.0p25.f%03d", product, cycle, lead)
}

// MemberDir returns the output directory of ensemble member i.
func MemberDir(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("mem%03d", i))
}

// Encode writes ds into dir and returns the paths of the GRIB2 files. A
// dataset with a sample axis is written one member per MemberDir.
func (e *Encoder) Encode(ctx context.Context, ds *dataset.Dataset, dir string) ([]string, error) {
	n := ds.Samples()
	if n == 0 {
		return e.encodeMember(ctx, ds, dir)
	}
	var out []string
	for i := 0; i < n; i++ {
		member, err := takeSample(ds, i)
		if err != nil {
			return nil, err
		}
		paths, err := e.encodeMember(ctx, member, MemberDir(dir, i))
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		out = append(out, paths...)
	}
	return out, nil
}

func takeSample(ds *dataset.Dataset, i int) (*dataset.Dataset, error) {
	out := ds.Copy()
	for name, v := range ds.Vars {
		if !v.Has(tensor.Sample) {
			continue
		}
		s, err := v.Take(tensor.Sample, i)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = s
	}
	return out, nil
}

func (e *Encoder) init(ds *dataset.Dataset) (time.Time, error) {
	if !e.Options.Init.IsZero() {
		return e.Options.Init.UTC(), nil
	}
	if ds.Batch() == 0 || len(ds.Time) == 0 {
		return time.Time{}, &EncodingError{Reason: "no forecast start and no datetime coordinate"}
	}
	return ds.Datetime[0][0].Add(-ds.Time[0]).UTC(), nil
}

func (e *Encoder) encodeMember(ctx context.Context, ds *dataset.Dataset, dir string) (paths []string, err error) {
	if e.Options.Cadence <= 0 || e.Options.Cadence%time.Hour != 0 {
		return nil, &EncodingError{Reason: fmt.Sprintf("invalid cadence %v", e.Options.Cadence)}
	}
	init, err := e.init(ds)
	if err != nil {
		return nil, err
	}
	drop := e.Options.Drop
	if drop == nil {
		drop = DefaultDrop
	}
	p, err := prepare(ds, drop)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, ArtifactName)
	defer func() {
		rerr := os.Remove(path)
		switch {
		case rerr == nil:
			glog.Infof("removed intermediate %s", path)
		case !os.IsNotExist(rerr):
			glog.Warningf("failed to remove intermediate %s: %v", path, rerr)
		}
	}()
	if err := writeArtifact(path, p); err != nil {
		return nil, err
	}
	a, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	glog.Infof("forecast start time is %s", init.Format("2006-01-02 15:04:05"))
	for t, lead := range a.leads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(dir, FileName(e.Options.Product, init.Hour(), lead))
		n, err := e.encodeLead(a, init, t, lead, out)
		if err != nil {
			return nil, err
		}
		e.Metrics.Encoded(n, 1)
		paths = append(paths, out)
	}
	if e.Options.Region != nil {
		if err := e.subset(ctx, dir, paths); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func (e *Encoder) encodeLead(a *artifact, init time.Time, t, lead int, path string) (n int, err error) {
	glog.Infof("processing %s for %s", path, init.Add(time.Duration(lead)*time.Hour).Format("2006-01-02 15:04:05"))
	ff, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := ff.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	w := bufio.NewWriter(ff)
	grid := gridOf(a.lat, a.lon)
	for _, v := range a.vars {
		info := v.Info()
		levels := []float64{info.Height}
		if info.Leveled() {
			levels = a.levels
		}
		forecast, interval, err := step(v, lead, int(e.Options.Cadence/time.Hour))
		if err != nil {
			return n, &EncodingError{Variable: info.Name, File: path, Reason: err.Error()}
		}
		for k, level := range levels {
			values, err := a.slab(v, t, k)
			if err != nil {
				return n, err
			}
			f := &grib2.Field{
				Discipline:   info.Discipline,
				Centre:       grib2.CentreNCEP,
				RefTime:      init,
				Category:     info.Category,
				Number:       info.Number,
				SurfaceType:  info.LevelType.SurfaceCode(),
				SurfaceValue: level,
				Forecast:     forecast,
				Interval:     interval,
				Grid:         grid,
				Values:       values,
			}
			if err := e.Grid.Encode(w, f); err != nil {
				return n, &EncodingError{Variable: info.Name, Level: level, File: path, Reason: err.Error()}
			}
			n++
		}
	}
	if err := w.Flush(); err != nil {
		return n, err
	}
	glog.V(1).Infof("wrote %d messages to %s", n, path)
	return n, nil
}

// step returns the forecast time and processing window of v at lead hours.
// The per-step precipitation covers the cadence ending at lead and the running
// total covers the whole forecast.
func step(v catalog.Variable, lead, cadence int) (int, *grib2.Interval, error) {
	if !v.Info().Accumulated {
		return lead, nil, nil
	}
	start := lead - cadence
	if v == catalog.TotalPrecipitation {
		start = 0
	}
	if start < 0 || lead <= start {
		return 0, nil, fmt.Errorf("malformed accumulation window %d-%d", start, lead)
	}
	return start, &grib2.Interval{Process: grib2.ProcessAccumulation, Hours: lead - start}, nil
}

func gridOf(lat, lon []float64) grib2.Grid {
	g := grib2.Grid{Ni: len(lon), Nj: len(lat)}
	if len(lat) > 0 {
		g.La1, g.La2 = lat[0], lat[len(lat)-1]
	}
	if len(lon) > 0 {
		g.Lo1, g.Lo2 = lon[0], lon[len(lon)-1]
	}
	if len(lat) > 1 {
		g.Dj = math.Abs(lat[1] - lat[0])
	}
	if len(lon) > 1 {
		g.Di = math.Abs(lon[1] - lon[0])
	}
	return g
}

func (e *Encoder) subset(ctx context.Context, dir string, paths []string) error {
	runner := e.Options.Runner
	if runner == nil {
		runner = wgrib2.Command{}
	}
	out := filepath.Join(dir, RegionDir)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, p := range paths {
		if err := wgrib2.SmallGrib(ctx, runner, p, filepath.Join(out, filepath.Base(p)), *e.Options.Region); err != nil {
			e.Metrics.SubprocessFailed()
			return err
		}
	}
	return nil
}
