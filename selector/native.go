package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/NOAA-EMC/MLGEFS/grib2"
	"github.com/NOAA-EMC/MLGEFS/gribio"
	"github.com/golang/glog"
)

// FileExtractor decodes GRIB2 files in process.
type FileExtractor struct{}

var _ GridExtractor = FileExtractor{}

// Extract implements GridExtractor.
func (FileExtractor) Extract(ctx context.Context, path string, q Query) ([]RawMessage, error) {
	recs, err := gribio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	inv, err := NativeInventory(path, recs)
	if err != nil {
		return nil, err
	}
	selected, err := Select(inv, q)
	if err != nil {
		return nil, err
	}

	out := make([]RawMessage, 0, len(selected))
	for _, r := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := recs[r.Index-1].Message()
		if err != nil {
			return nil, err
		}
		f, err := m.Field()
		if err != nil {
			return nil, fmt.Errorf("error decoding record %d of %s: %w", r.Index, path, err)
		}
		lt, level, err := ParseLevel(r.Level)
		if err != nil {
			return nil, err
		}
		out = append(out, RawMessage{
			Var:       r.Var,
			LevelType: lt,
			Level:     level,
			LevelDesc: r.Level,
			StepType:  f.StepType(),
			Ref:       f.RefTime,
			Valid:     f.ValidTime(),
			Window:    window(f.Interval),
			Values:    f.Values,
			Lat:       f.Grid.Lats(),
			Lon:       f.Grid.Lons(),
			File:      path,
		})
		glog.V(1).Infof("decoded %s", r)
	}
	glog.Infof("selected %d messages matching %s %s from %s", len(out), q.Variable, q.Level, path)
	return out, nil
}

func window(iv *grib2.Interval) time.Duration {
	if iv == nil {
		return 0
	}
	return time.Duration(iv.Hours) * time.Hour
}
