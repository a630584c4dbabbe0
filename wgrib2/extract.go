package wgrib2

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/golang/glog"
)

// fillThreshold marks the wgrib2 netCDF fill value 9.999e20.
const fillThreshold = 9.9e20

// Extractor selects records with wgrib2 and reads them back from the netCDF
// file wgrib2 writes. The netCDF file is removed before Extract returns.
type Extractor struct {
	Runner Runner
	// TempDir holds the intermediate netCDF files. Empty means os.TempDir().
	TempDir string
}

var _ selector.GridExtractor = (*Extractor)(nil)

// Extract implements selector.GridExtractor.
func (e *Extractor) Extract(ctx context.Context, path string, q selector.Query) ([]selector.RawMessage, error) {
	inv, err := Inventory(ctx, e.Runner, path)
	if err != nil {
		return nil, err
	}
	selected, err := selector.Select(inv, q)
	if err != nil {
		return nil, err
	}
	nlev := 1
	if len(q.Levels) > 1 {
		nlev = len(q.Levels)
	}

	byIndex := map[int]selector.RawMessage{}
	for _, batch := range batches(selected) {
		msgs, err := e.extractBatch(ctx, path, nlev, batch)
		if err != nil {
			return nil, err
		}
		for i, m := range msgs {
			byIndex[batch[i].Index] = m
		}
	}
	out := make([]selector.RawMessage, 0, len(selected))
	for _, r := range selected {
		out = append(out, byIndex[r.Index])
	}
	glog.Infof("extracted %d messages matching %s %s from %s", len(out), q.Variable, q.Level, path)
	return out, nil
}

// batches splits records so that no batch holds two records of the same
// variable and level, which would share a netCDF variable.
func batches(recs []selector.Record) [][]selector.Record {
	var out [][]selector.Record
	for _, r := range recs {
		key := r.Var + ":" + r.Level
		placed := false
		for i, b := range out {
			clash := false
			for _, o := range b {
				if o.Var+":"+o.Level == key {
					clash = true
					break
				}
			}
			if !clash {
				out[i] = append(b, r)
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, []selector.Record{r})
		}
	}
	return out
}

func (e *Extractor) extractBatch(ctx context.Context, path string, nlev int, batch []selector.Record) ([]selector.RawMessage, error) {
	tmp, err := os.CreateTemp(e.TempDir, "wgrib2-*.nc")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			glog.Warningf("failed to remove %s: %v", tmpPath, err)
		}
	}()

	var stdin strings.Builder
	for _, r := range batch {
		stdin.WriteString(r.String())
		stdin.WriteByte('\n')
	}
	args := []string{"-i"}
	if nlev > 1 {
		args = append(args, "-nc_nlev", strconv.Itoa(nlev))
	}
	args = append(args, path, "-netcdf", tmpPath)
	if err := e.Runner.Run(ctx, strings.NewReader(stdin.String()), nil, args...); err != nil {
		return nil, err
	}

	nc, err := netcdf.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("error opening wgrib2 output for %s: %w", path, err)
	}
	defer nc.Close()

	lat, err := coordinate(nc, "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := coordinate(nc, "longitude")
	if err != nil {
		return nil, err
	}
	var plevel []float64
	if nlev > 1 {
		if plevel, err = coordinate(nc, "plevel"); err != nil {
			return nil, err
		}
	}

	out := make([]selector.RawMessage, 0, len(batch))
	for _, r := range batch {
		lt, level, err := selector.ParseLevel(r.Level)
		if err != nil {
			return nil, err
		}
		leveled := lt == catalog.Isobaric && nlev > 1
		name := catalog.RawName(r.Var, r.Level, leveled)
		values, err := readGrid(nc, name, len(lat), len(lon), leveled, plevel, level)
		if err != nil {
			return nil, fmt.Errorf("error reading %s from wgrib2 output of %s: %w", name, path, err)
		}
		start, end, err := r.Hours()
		if err != nil {
			return nil, err
		}
		out = append(out, selector.RawMessage{
			Var:       r.Var,
			LevelType: lt,
			Level:     level,
			LevelDesc: r.Level,
			StepType:  r.StepType(),
			Ref:       r.Ref,
			Valid:     r.Ref.Add(time.Duration(end) * time.Hour),
			Window:    time.Duration(end-start) * time.Hour,
			Values:    values,
			Lat:       lat,
			Lon:       lon,
			File:      path,
		})
	}
	return out, nil
}

func coordinate(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("wgrib2 output has no %s: %w", name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, err
	}
	data, _, err := tensor.Flatten(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = float64(x)
	}
	return out, nil
}

// readGrid returns one (lat, lon) slab of a variable. Leveled variables are
// (time, plevel, lat, lon) with plevel in Pa; others are (time, lat, lon).
func readGrid(nc api.Group, name string, ny, nx int, leveled bool, plevel []float64, level float64) ([]float32, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	v, err := vg.Values()
	if err != nil {
		return nil, err
	}
	data, shape, err := tensor.Flatten(v)
	if err != nil {
		return nil, err
	}
	grid := ny * nx
	if shape[0] != 1 {
		return nil, fmt.Errorf("%d time steps, want 1", shape[0])
	}
	offset := 0
	if leveled {
		if len(shape) != 4 {
			return nil, fmt.Errorf("shape %v, want (time, plevel, lat, lon)", shape)
		}
		k := -1
		for i, p := range plevel {
			if math.Abs(p/100-level) < 1e-3 || math.Abs(p-level) < 1e-3 {
				k = i
				break
			}
		}
		if k < 0 {
			return nil, fmt.Errorf("level %g mb not among %v", level, plevel)
		}
		offset = k * grid
	} else if len(shape) != 3 {
		return nil, fmt.Errorf("shape %v, want (time, lat, lon)", shape)
	}
	if len(data) < offset+grid {
		return nil, fmt.Errorf("%d values, want at least %d", len(data), offset+grid)
	}
	out := append([]float32(nil), data[offset:offset+grid]...)
	for i, x := range out {
		if x >= fillThreshold {
			out[i] = float32(math.NaN())
		}
	}
	return out, nil
}
