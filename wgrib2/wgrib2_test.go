package wgrib2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"testing"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInventory = `1:0:d=2024022700:TMP:500 mb:anl:
2:100:d=2024022700:TMP:850 mb:anl:
3:200:d=2024022700:TMP:2 m above ground:anl:
4:300:d=2024022700:APCP:surface:0-6 hour acc fcst:
5:400:d=2024022700:APCP:surface:6 hour fcst:
`

// fakeRunner answers -s with a fixed inventory and -netcdf with a small
// file in the layout wgrib2 produces.
type fakeRunner struct {
	inventory string
	calls     [][]string
	stdin     [][]string
	fail      error
}

func (f *fakeRunner) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	f.calls = append(f.calls, args)
	if f.fail != nil {
		return f.fail
	}
	if len(args) > 0 && args[0] == "-s" {
		_, err := io.WriteString(stdout, f.inventory)
		return err
	}
	var lines []string
	if stdin != nil {
		s := bufio.NewScanner(stdin)
		for s.Scan() {
			lines = append(lines, s.Text())
		}
	}
	f.stdin = append(f.stdin, lines)
	for i, a := range args {
		if a == "-netcdf" {
			return writeNetCDF(args[i+1])
		}
	}
	return fmt.Errorf("unexpected arguments %v", args)
}

func writeNetCDF(path string) error {
	h := cdf.NewHeader([]string{"time", "plevel", "latitude", "longitude"}, []int{1, 2, 2, 3})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddVariable("plevel", []string{"plevel"}, []float32{0})
	h.AddAttribute("plevel", "units", "Pa")
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	h.AddVariable("TMP", []string{"time", "plevel", "latitude", "longitude"}, []float32{0})
	h.AddVariable("TMP_2maboveground", []string{"time", "latitude", "longitude"}, []float32{0})
	h.AddVariable("APCP_surface", []string{"time", "latitude", "longitude"}, []float32{0})
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		return err
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return err
	}
	write := func(name string, data interface{}) error {
		end := f.Header.Lengths(name)
		_, err := f.Writer(name, make([]int, len(end)), end).Write(data)
		return err
	}
	for _, v := range []struct {
		name string
		data interface{}
	}{
		{"time", []float64{1708992000}},
		{"plevel", []float32{50000, 85000}},
		{"latitude", []float64{-0.25, 0}},
		{"longitude", []float64{0, 0.25, 0.5}},
		{"TMP", []float32{250, 251, 252, 253, 254, 255, 270, 271, 272, 273, 274, 275}},
		{"TMP_2maboveground", []float32{280, 281, 282, 283, 284, 9.999e20}},
		{"APCP_surface", []float32{0, 1, 2, 3, 4, 5}},
	} {
		if err := write(v.name, v.data); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(ff)
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{inventory: testInventory}
	e := &Extractor{Runner: r, TempDir: dir}

	msgs, err := e.Extract(context.Background(), "gdas.t00z.pgrb2.0p25.f000", selector.MustQuery(":TMP:", ":(850|500) mb:"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 850.0, msgs[0].Level)
	assert.Equal(t, catalog.Isobaric, msgs[0].LevelType)
	assert.Equal(t, []float32{270, 271, 272, 273, 274, 275}, msgs[0].Values)
	assert.Equal(t, []float32{250, 251, 252, 253, 254, 255}, msgs[1].Values)
	assert.Equal(t, []float64{-0.25, 0}, msgs[0].Lat)
	assert.Equal(t, []string{"-i", "-nc_nlev", "2", "gdas.t00z.pgrb2.0p25.f000", "-netcdf"}, r.calls[1][:5])
	assert.Len(t, r.stdin[0], 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "intermediate netCDF files must be removed")
}

func TestExtractFillAndStepTypes(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{inventory: testInventory}
	e := &Extractor{Runner: r, TempDir: dir}

	msgs, err := e.Extract(context.Background(), "f", selector.MustQuery(":TMP:", ":2 m above ground:"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, math.IsNaN(float64(msgs[0].Values[5])), "fill value becomes NaN")

	msgs, err = e.Extract(context.Background(), "f", selector.MustQuery(":APCP:", ":surface:"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "accum", msgs[0].StepType)
	assert.Equal(t, "instant", msgs[1].StepType)
	// Two records with the same name need separate wgrib2 runs.
	assert.Len(t, r.stdin, 3)
}

func TestExtractSubprocessFailure(t *testing.T) {
	dir := t.TempDir()
	fail := &SubprocessError{Command: "wgrib2", Args: []string{"-s", "f"}, ExitCode: 8, Stderr: "missing file"}
	e := &Extractor{Runner: &fakeRunner{fail: fail}, TempDir: dir}
	_, err := e.Extract(context.Background(), "f", selector.MustQuery(":TMP:", ":500 mb:"))
	var se *SubprocessError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 8, se.ExitCode)
	assert.Contains(t, se.Error(), "missing file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractSelectionError(t *testing.T) {
	e := &Extractor{Runner: &fakeRunner{inventory: testInventory}, TempDir: t.TempDir()}
	_, err := e.Extract(context.Background(), "f", selector.MustQuery(":SPFH:", ":500 mb:"))
	var se *selector.SelectionError
	assert.True(t, errors.As(err, &se))
}

func TestCommandExitCode(t *testing.T) {
	sh, err := os.Stat("/bin/sh")
	if err != nil || sh.IsDir() {
		t.Skip("no /bin/sh")
	}
	err = Command{Path: "/bin/sh"}.Run(context.Background(), nil, io.Discard, "-c", "echo boom >&2; exit 3")
	var se *SubprocessError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 3, se.ExitCode)
	assert.Equal(t, "boom\n", se.Stderr)
}

func TestSmallGrib(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, SmallGrib(context.Background(), r, "in.grb", "out.grb", NorthAmerica))
	assert.Equal(t, []string{"in.grb", "-small_grib", "61:299", "-37:37", "out.grb"}, r.args)
}

type recordingRunner struct{ args []string }

func (r *recordingRunner) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	r.args = args
	return nil
}
