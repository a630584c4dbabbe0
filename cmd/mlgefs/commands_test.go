package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/grib2"
	"github.com/NOAA-EMC/MLGEFS/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gdas.t00z.pgrb2.0p25.f000")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, grib2.Writer{}.Encode(f, &grib2.Field{
		RefTime:      time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC),
		SurfaceType:  grib2.SurfaceHeightAbove,
		SurfaceValue: 2,
		Grid:         grib2.Grid{Ni: 2, Nj: 1, La1: 0, La2: 0, Lo1: 0, Lo2: 0.25, Di: 0.25},
		Values:       []float32{280, 281},
	}))
	require.NoError(t, f.Close())

	var out bytes.Buffer
	inventoryCmd.SetOut(&out)
	require.NoError(t, inventoryCmd.RunE(inventoryCmd, []string{path}))
	assert.Equal(t, "1:0:d=2024022700:TMP:2 m above ground:anl:\n", out.String())
}

func TestResolveCycle(t *testing.T) {
	root := t.TempDir()
	p := &pipeline.Pipeline{Clock: clockwork.NewFakeClockAt(time.Date(2024, 2, 27, 14, 0, 0, 0, time.UTC))}
	p.Config.Root = root
	require.NoError(t, os.MkdirAll(pipeline.CycleDir(root, time.Date(2024, 2, 27, 6, 0, 0, 0, time.UTC)), 0o755))

	tests := []struct {
		flag    string
		want    time.Time
		wantErr bool
	}{
		{"2024022618", time.Date(2024, 2, 26, 18, 0, 0, 0, time.UTC), false},
		{"", time.Date(2024, 2, 27, 6, 0, 0, 0, time.UTC), false},
		{"2024-02-26", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			cycleFlag = tt.flag
			defer func() { cycleFlag = "" }()
			got, err := resolveCycle(p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
