package field

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)

func message(v, desc string, lt catalog.LevelType, level float64, values ...float32) selector.RawMessage {
	return selector.RawMessage{
		Var:       v,
		LevelType: lt,
		Level:     level,
		LevelDesc: desc,
		StepType:  "instant",
		Ref:       ref,
		Valid:     ref,
		Values:    values,
		Lat:       []float64{0.25, 0},
		Lon:       []float64{0, 0.25},
		File:      "gdas.t00z.pgrb2.0p25.f000",
	}
}

func TestLatitudeNormalization(t *testing.T) {
	fields, err := Materialize([]selector.RawMessage{
		message("TMP", "2 m above ground", catalog.HeightAboveGround, 2, 1, 2, 3, 4),
	}, Options{})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	f := fields[0]
	assert.Equal(t, []float64{0, 0.25}, f.Lat)
	assert.Equal(t, []tensor.Dim{tensor.Level, tensor.Lat, tensor.Lon}, f.Data.Dims())
	assert.Equal(t, []float32{3, 4, 1, 2}, f.Data.Data())
	assert.Equal(t, "TMP_2maboveground", f.Name)
	assert.Equal(t, 2.0, f.Height)

	// Ascending input is left alone.
	m := message("PRMSL", "mean sea level", catalog.MeanSea, 0, 1, 2, 3, 4)
	m.Lat = []float64{0, 0.25}
	fields, err = Materialize([]selector.RawMessage{m}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, fields[0].Data.Data())
	// The message itself is not modified.
	assert.Equal(t, []float64{0, 0.25}, m.Lat)
}

func TestStackLevels(t *testing.T) {
	msgs := []selector.RawMessage{
		message("TMP", "850 mb", catalog.Isobaric, 850, 1, 1, 1, 1),
		message("TMP", "500 mb", catalog.Isobaric, 500, 2, 2, 2, 2),
		message("UGRD", "850 mb", catalog.Isobaric, 850, 3, 3, 3, 3),
		message("UGRD", "500 mb", catalog.Isobaric, 500, 4, 4, 4, 4),
	}
	fields, err := Materialize(msgs, Options{Secondary: true})
	require.NoError(t, err)
	require.Len(t, fields, 2)
	tmp := fields[0]
	assert.Equal(t, "TMP", tmp.Name)
	assert.Equal(t, []float64{850, 500}, tmp.Levels)
	assert.Equal(t, []int{2, 2, 2}, tmp.Data.Shape())
	assert.Equal(t, []tensor.Dim{tensor.PLevel, tensor.Lat, tensor.Lon}, tmp.Data.Dims())
	assert.Equal(t, float32(1), tmp.Data.At(0, 0, 0))
	assert.Equal(t, float32(2), tmp.Data.At(1, 1, 1))
	assert.True(t, tmp.Secondary)
	assert.Equal(t, "UGRD", fields[1].Name)
}

func TestStackAllLevels(t *testing.T) {
	levels, err := catalog.PressureLevels(37)
	require.NoError(t, err)
	var msgs []selector.RawMessage
	for i, l := range levels {
		v := float32(i)
		msgs = append(msgs, message("TMP", fmt.Sprintf("%d mb", l), catalog.Isobaric, float64(l), v, v, v, v))
	}
	fields, err := Materialize(msgs, Options{})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	f := fields[0]
	require.Len(t, f.Levels, 37)
	assert.Equal(t, []int{37, 2, 2}, f.Data.Shape())
	for i, l := range levels {
		assert.Equal(t, float64(l), f.Levels[i])
		assert.Equal(t, float32(i), f.Data.At(i, 0, 1))
	}

	_, err = Materialize(append(msgs, msgs[3]), Options{})
	var se *selector.SelectionError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, fmt.Sprintf("%d mb", levels[3]), se.Level)
}

func TestCandidates(t *testing.T) {
	avg := message("PRATE", "surface", catalog.Surface, 0, 9, 9, 9, 9)
	avg.StepType = "avg"
	inst := message("PRATE", "surface", catalog.Surface, 0, 1, 1, 1, 1)

	fields, err := Materialize([]selector.RawMessage{avg, inst}, Options{})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "instant", fields[0].StepType)
	assert.Equal(t, float32(1), fields[0].Data.At(0, 0, 0))

	acc := avg
	acc.StepType = "accum"
	_, err = Materialize([]selector.RawMessage{avg, acc}, Options{})
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "PRATE", se.Variable)

	_, err = Materialize([]selector.RawMessage{inst, avg, inst}, Options{})
	var sel *selector.SelectionError
	require.True(t, errors.As(err, &sel), "got %v", err)
	assert.Equal(t, "PRATE", sel.Variable)
	assert.Equal(t, "surface", sel.Level)
	assert.Equal(t, "instant", sel.StepType)
	assert.Equal(t, 2, sel.Got)
}

func TestAccumulationTimeShift(t *testing.T) {
	tests := []struct {
		name   string
		step   string
		window time.Duration
		want   time.Time
	}{
		{"accumulation window", "accum", 6 * time.Hour, ref},
		{"no window recorded", "accum", 0, ref},
		{"twelve hour window", "accum", 12 * time.Hour, ref.Add(-6 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := message("APCP", "surface", catalog.Surface, 0, 0, 1, 2, 3)
			m.StepType = tt.step
			m.Window = tt.window
			m.Valid = ref.Add(6 * time.Hour)
			fields, err := Materialize([]selector.RawMessage{m}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, fields[0].Time)
		})
	}

	m := message("UGRD", "10 m above ground", catalog.HeightAboveGround, 10, 0, 1, 2, 3)
	m.Valid = ref.Add(6 * time.Hour)
	fields, err := Materialize([]selector.RawMessage{m}, Options{Static: true})
	require.NoError(t, err)
	assert.Equal(t, ref.Add(6*time.Hour), fields[0].Time)
	assert.True(t, fields[0].Static)
}

func TestShapeErrors(t *testing.T) {
	short := message("TMP", "2 m above ground", catalog.HeightAboveGround, 2, 1, 2, 3)
	empty := message("TMP", "2 m above ground", catalog.HeightAboveGround, 2)
	empty.Lat = nil

	a := message("TMP", "500 mb", catalog.Isobaric, 500, 1, 2, 3, 4)
	b := message("TMP", "850 mb", catalog.Isobaric, 850, 1, 2, 3, 4, 5, 6)
	b.Lon = []float64{0, 0.25, 0.5}

	late := message("TMP", "850 mb", catalog.Isobaric, 850, 1, 2, 3, 4)
	late.Valid = ref.Add(time.Hour)

	for name, msgs := range map[string][]selector.RawMessage{
		"value count":         {short},
		"empty grid":          {empty},
		"mismatched levels":   {a, b},
		"mismatched validity": {a, late},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Materialize(msgs, Options{})
			var se *ShapeError
			assert.True(t, errors.As(err, &se), "got %v", err)
		})
	}
}
