package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/grib2"
	"github.com/stretchr/testify/require"
)

var (
	init0 = time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
	grid  = grib2.Grid{Ni: 2, Nj: 2, La1: 90, La2: 89.75, Lo1: 0, Lo2: 0.25, Di: 0.25, Dj: 0.25}
	// land holds the land sea mask of the test grid in scan order.
	land = []float32{1, 0, 0, 1}
)

// archiveFields returns every variable the profiles extract, valid at ref.
// Every value is 1 except for the land sea mask, 290 K sea surface
// temperature and 280 K air temperatures.
func archiveFields(ref time.Time, levels []int) []*grib2.Field {
	var out []*grib2.Field
	for _, v := range catalog.All() {
		info := v.Info()
		if v == catalog.TotalPrecipitation12hr || v == catalog.TotalPrecipitation {
			continue
		}
		value := float32(1)
		switch v {
		case catalog.SeaSurfaceTemperature:
			value = 290
		case catalog.Temperature2m, catalog.Temperature:
			value = 280
		}
		heights := []float64{info.Height}
		if info.Leveled() {
			heights = nil
			for _, l := range levels {
				heights = append(heights, float64(l)*100)
			}
		}
		for _, h := range heights {
			f := &grib2.Field{
				Discipline:   info.Discipline,
				Centre:       grib2.CentreNCEP,
				RefTime:      ref,
				Category:     info.Category,
				Number:       info.Number,
				SurfaceType:  info.LevelType.SurfaceCode(),
				SurfaceValue: h,
				Grid:         grid,
				Values:       []float32{value, value, value, value},
			}
			if v == catalog.LandSeaMask {
				f.Values = append([]float32(nil), land...)
			}
			if info.Accumulated {
				f.Interval = &grib2.Interval{Process: grib2.ProcessAccumulation, Hours: 6}
			}
			out = append(out, f)
		}
	}
	return out
}

func writeGrib(t *testing.T, path string, fields []*grib2.Field) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, fld := range fields {
		require.NoError(t, grib2.Writer{}.Encode(f, fld))
	}
}

// writeCycle writes every archive file the profile reads for cycle. Each
// file carries the whole variable set.
func writeCycle(t *testing.T, root string, p catalog.Profile, cycle time.Time) {
	t.Helper()
	levels, err := catalog.PressureLevels(p.Levels)
	require.NoError(t, err)
	fields := archiveFields(cycle, levels)
	seen := map[string]bool{}
	for _, r := range p.Requests() {
		if seen[r.File] {
			continue
		}
		seen[r.File] = true
		writeGrib(t, ArchivePath(root, p, cycle, r.File), fields)
	}
}
