package assembler

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/field"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)

var (
	testLat = []float64{0, 0.25}
	testLon = []float64{0, 0.25}
)

func surface(name string, at time.Time, values ...float32) *field.LabeledField {
	if len(values) == 1 {
		values = []float32{values[0], values[0], values[0], values[0]}
	}
	data, err := tensor.New([]tensor.Dim{tensor.Level, tensor.Lat, tensor.Lon}, []int{1, 2, 2}, values)
	if err != nil {
		panic(err)
	}
	return &field.LabeledField{
		Name: name,
		Time: at,
		Lat:  append([]float64(nil), testLat...),
		Lon:  append([]float64(nil), testLon...),
		Data: data,
		File: "test",
	}
}

func isobaric(name string, at time.Time, levels []int, value float32) *field.LabeledField {
	f := &field.LabeledField{
		Name:      name,
		LevelType: catalog.Isobaric,
		Time:      at,
		Lat:       append([]float64(nil), testLat...),
		Lon:       append([]float64(nil), testLon...),
		File:      "test",
	}
	data := make([]float32, 0, 4*len(levels))
	for _, l := range levels {
		f.Levels = append(f.Levels, float64(l))
		for i := 0; i < 4; i++ {
			data = append(data, value+float32(l))
		}
	}
	var err error
	if f.Data, err = tensor.New([]tensor.Dim{tensor.PLevel, tensor.Lat, tensor.Lon}, []int{len(levels), 2, 2}, data); err != nil {
		panic(err)
	}
	return f
}

func static(f *field.LabeledField) *field.LabeledField {
	f.Static = true
	return f
}

func secondary(f *field.LabeledField) *field.LabeledField {
	f.Secondary = true
	return f
}

func TestMergeTolerance(t *testing.T) {
	tests := []struct {
		name    string
		shift   float64
		wantErr bool
	}{
		{"within tolerance", 1e-7, false},
		{"beyond tolerance", 0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := surface("TMP_2maboveground", t0, 280)
			b := surface("PRMSL_meansealevel", t0, 101325)
			b.Lat[1] += tt.shift
			_, err := Merge([]*field.LabeledField{a, b})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var mc *MergeConflictError
			require.True(t, errors.As(err, &mc), "got %v", err)
			assert.Equal(t, "lat", mc.Coordinate)
			assert.Equal(t, "PRMSL_meansealevel", mc.Variable)
		})
	}

	short := surface("PRMSL_meansealevel", t0, 1)
	short.Lon = []float64{0}
	_, err := Merge([]*field.LabeledField{surface("TMP_2maboveground", t0, 1), short})
	var mc *MergeConflictError
	assert.True(t, errors.As(err, &mc))
}

func TestMergeOuterJoin(t *testing.T) {
	m, err := Merge([]*field.LabeledField{
		surface("TMP_2maboveground", t0, 281),
		surface("TMP_2maboveground", t0.Add(-6*time.Hour), 280),
		surface("APCP_surface", t0, 2),
		static(surface("LAND_surface", t0.Add(-6*time.Hour), 1, 0, 0, 1)),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{t0.Add(-6 * time.Hour), t0}, m.Times)

	t2m := m.Vars["TMP_2maboveground"]
	assert.Equal(t, []tensor.Dim{tensor.Time, tensor.Level, tensor.Lat, tensor.Lon}, t2m.Dims())
	assert.Equal(t, float32(280), t2m.At(0, 0, 0, 0))
	assert.Equal(t, float32(281), t2m.At(1, 0, 0, 0))

	apcp := m.Vars["APCP_surface"]
	assert.True(t, math.IsNaN(float64(apcp.At(0, 0, 0, 0))))
	assert.Equal(t, float32(2), apcp.At(1, 0, 0, 0))

	land := m.Vars["LAND_surface"]
	assert.Equal(t, []tensor.Dim{tensor.Level, tensor.Lat, tensor.Lon}, land.Dims())
}

func TestMergeDuplicate(t *testing.T) {
	_, err := Merge([]*field.LabeledField{
		surface("TMP_2maboveground", t0, 1),
		surface("TMP_2maboveground", t0, 2),
	})
	var mc *MergeConflictError
	assert.True(t, errors.As(err, &mc))

	_, err = Merge([]*field.LabeledField{
		static(surface("LAND_surface", t0, 1)),
		surface("LAND_surface", t0.Add(6*time.Hour), 1),
	})
	assert.True(t, errors.As(err, &mc))
}

func TestMergeSecondaryLevels(t *testing.T) {
	// 13 levels from the primary archive, the other 24 from the secondary one.
	fromPrimary, _, err := catalog.SplitLevels(13)
	require.NoError(t, err)
	all, err := catalog.PressureLevels(37)
	require.NoError(t, err)
	fromSecondary := removeInts(all, fromPrimary...)
	require.Len(t, fromSecondary, 24)

	m, err := Merge([]*field.LabeledField{
		isobaric("TMP", t0, fromPrimary, 0),
		secondary(isobaric("TMP", t0, fromSecondary, 10000)),
		// Overlapping level: the primary value wins.
		secondary(isobaric("TMP", t0, []int{1000}, 20000)),
	})
	require.NoError(t, err)
	require.Len(t, m.Levels, 37)
	for i, l := range all {
		assert.Equal(t, float64(l), m.Levels[i])
	}
	v := m.Vars["TMP"]
	assert.Equal(t, []int{1, 37, 2, 2}, v.Shape())
	for i, l := range m.Levels {
		got := v.At(0, i, 0, 0)
		assert.False(t, math.IsNaN(float64(got)), "level %g", l)
	}
	assert.Equal(t, float32(1000), v.At(0, 36, 0, 0))
	assert.Equal(t, float32(10000+125), v.At(0, indexOf(m.Levels, 125), 1, 1))
}

func removeInts(xs []int, drop ...int) []int {
	var out []int
outer:
	for _, x := range xs {
		for _, d := range drop {
			if x == d {
				continue outer
			}
		}
		out = append(out, x)
	}
	return out
}

func TestDropLevel(t *testing.T) {
	m, err := Merge([]*field.LabeledField{surface("TMP_2maboveground", t0, 1)})
	require.NoError(t, err)
	m, err = DropLevel(m)
	require.NoError(t, err)
	assert.Equal(t, []tensor.Dim{tensor.Time, tensor.Lat, tensor.Lon}, m.Vars["TMP_2maboveground"].Dims())

	a := surface("TMP_2maboveground", t0, 1)
	b := surface("TMP_2maboveground", t0, 2)
	b.Height = 10
	m, err = Merge([]*field.LabeledField{a, b})
	require.NoError(t, err)
	_, err = DropLevel(m)
	var se *dataset.SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestMaskSST(t *testing.T) {
	p, err := catalog.NewProfile(catalog.GDAS, catalog.GraphCast, 13, "")
	require.NoError(t, err)

	sst := surface("TMP_surface", t0, 280, 290, 300, 310)
	land := static(surface("LAND_surface", t0, 1, 0, 0.5, float32(math.NaN())))
	m, err := Merge([]*field.LabeledField{sst, land})
	require.NoError(t, err)
	m, err = DropLevel(m)
	require.NoError(t, err)
	m, err = MaskSST(m, p)
	require.NoError(t, err)
	got := m.Vars["TMP_surface"].Data()
	assert.True(t, math.IsNaN(float64(got[0])), "land pixel masked")
	assert.Equal(t, float32(290), got[1], "sea pixel kept")
	assert.True(t, math.IsNaN(float64(got[2])))
	assert.Equal(t, float32(310), got[3])

	gefs, err := catalog.NewProfile(catalog.GEFS, catalog.GraphCast, 13, "c00")
	require.NoError(t, err)
	same, err := MaskSST(m, gefs)
	require.NoError(t, err)
	assert.Same(t, m, same)

	delete(m.Vars, "LAND_surface")
	_, err = MaskSST(m, p)
	var se *dataset.SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestDerivePrecipitation(t *testing.T) {
	fields := []*field.LabeledField{
		surface("APCP_surface", t0.Add(-6*time.Hour), 1),
		surface("APCP_surface", t0, 2),
	}
	m, err := Merge(fields)
	require.NoError(t, err)
	m, err = DropLevel(m)
	require.NoError(t, err)

	tests := []struct {
		family catalog.Family
		model  catalog.Model
		member string
		name   string
		want   []float32
	}{
		{catalog.GDAS, catalog.GenCast, "", "total_precipitation_12hr", []float32{1, 3}},
		{catalog.Reforecast, catalog.GraphCast, "00", "total_precipitation_6hr", []float32{1, 2}},
		{catalog.GEFS, catalog.GraphCast, "c00", "total_precipitation_6hr", []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			p, err := catalog.NewProfile(tt.family, tt.model, 13, tt.member)
			require.NoError(t, err)
			got, err := DerivePrecipitation(m, p)
			require.NoError(t, err)
			assert.NotContains(t, got.Vars, "APCP_surface")
			v := got.Vars[tt.name]
			require.NotNil(t, v)
			assert.Equal(t, tt.want, []float32{v.At(0, 0, 0), v.At(1, 0, 0)})
			assert.Contains(t, m.Vars, "APCP_surface", "input left untouched")
		})
	}
}

// productFields returns a complete set of fields for p over two cycles.
func productFields(p catalog.Profile) []*field.LabeledField {
	primary, secondaryLevels, _ := catalog.SplitLevels(p.Levels)
	var out []*field.LabeledField
	for i, at := range []time.Time{t0.Add(-6 * time.Hour), t0} {
		if i == 0 {
			out = append(out,
				static(surface("HGT_surface", at, 100)),
				static(surface("LAND_surface", at, 1, 0, 0, 1)))
		}
		out = append(out,
			surface("TMP_2maboveground", at, 280),
			surface("PRMSL_meansealevel", at, 101325),
			surface("UGRD_10maboveground", at, 3),
			surface("VGRD_10maboveground", at, -3),
			surface("APCP_surface", at, 1))
		if p.MaskSST() {
			out = append(out, surface("TMP_surface", at, 290))
		}
		for _, v := range []string{"SPFH", "VVEL", "VGRD", "UGRD", "HGT", "TMP"} {
			out = append(out, isobaric(v, at, primary, 1))
			if len(secondaryLevels) > 0 {
				out = append(out, secondary(isobaric(v, at, secondaryLevels, 1)))
			}
		}
	}
	return out
}

func TestAssembleSchema(t *testing.T) {
	for _, levels := range []int{13, 31, 37} {
		for _, family := range []catalog.Family{catalog.GDAS, catalog.GEFS} {
			p, err := catalog.NewProfile(family, catalog.GraphCast, levels, "c00")
			require.NoError(t, err)
			t.Run(string(family)+"/"+p.DatasetName(t0, 2), func(t *testing.T) {
				d, err := Assemble(productFields(p), p)
				require.NoError(t, err)
				assert.Len(t, d.Level, levels)
				assert.Equal(t, []time.Duration{0, 6 * time.Hour}, d.Time)
				assert.Equal(t, [][]time.Time{{t0.Add(-6 * time.Hour), t0}}, d.Datetime)
				for _, v := range p.Variables() {
					info := v.Info()
					got, ok := d.Vars[info.Name]
					require.True(t, ok, info.Name)
					var want []tensor.Dim
					switch {
					case info.Static:
						want = []tensor.Dim{tensor.Lat, tensor.Lon}
					case info.Leveled():
						want = []tensor.Dim{tensor.Batch, tensor.Time, tensor.Level, tensor.Lat, tensor.Lon}
					default:
						want = []tensor.Dim{tensor.Batch, tensor.Time, tensor.Lat, tensor.Lon}
					}
					assert.Equal(t, want, got.Dims(), info.Name)
				}
				assert.Len(t, d.Vars, len(p.Variables()))
			})
		}
	}
}

func TestAssembleUnits(t *testing.T) {
	p, err := catalog.NewProfile(catalog.GDAS, catalog.GraphCast, 13, "")
	require.NoError(t, err)
	d, err := Assemble(productFields(p), p)
	require.NoError(t, err)

	assert.InDelta(t, 100*catalog.StandardGravity, d.Vars["geopotential_at_surface"].At(0, 0), 1e-3)
	// HGT at 50 hPa is 1 + 50 in the fixture.
	assert.InDelta(t, 51*catalog.StandardGravity, d.Vars["geopotential"].At(0, 0, 0, 0, 0), 1e-3)
	// Cumulative precipitation of 1 kg m-2 per step, in metres.
	precip := d.Vars["total_precipitation_6hr"]
	assert.InDelta(t, 0.001, precip.At(0, 0, 0, 0), 1e-9)
	assert.InDelta(t, 0.002, precip.At(0, 1, 0, 0), 1e-9)
	sst := d.Vars["sea_surface_temperature"]
	assert.True(t, math.IsNaN(float64(sst.At(0, 0, 0, 0))))
	assert.Equal(t, float32(290), sst.At(0, 0, 0, 1))
	assert.Equal(t, []int32{50, 100, 150, 200, 250, 300, 400, 500, 600, 700, 850, 925, 1000}, d.Level)
}

func TestNormalizeUnknownVariable(t *testing.T) {
	p, err := catalog.NewProfile(catalog.GEFS, catalog.GraphCast, 13, "c00")
	require.NoError(t, err)
	fields := append(productFields(p), surface("TMP_surface", t0, 290))
	_, err = Assemble(fields, p)
	var se *dataset.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "TMP_surface", se.Variable)

	// Missing variables are reported as well.
	fields = productFields(p)[1:]
	_, err = Assemble(fields, p)
	require.True(t, errors.As(err, &se))
}
