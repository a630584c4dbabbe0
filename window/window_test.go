package window

import (
	"math"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var init0 = time.Date(2024, 2, 27, 12, 0, 0, 0, time.UTC)

// steps builds a dataset with n six-hourly steps ending at last. Step i of
// 2m_temperature holds the value i at every point.
func steps(t *testing.T, n int, last time.Time) *dataset.Dataset {
	t.Helper()
	ds := &dataset.Dataset{
		Lat:      []float32{-0.25, 0.25},
		Lon:      []float32{0},
		Vars:     map[string]*tensor.Tensor{},
		Datetime: [][]time.Time{make([]time.Time, n)},
	}
	data := make([]float32, n*2)
	for i := 0; i < n; i++ {
		ds.Time = append(ds.Time, time.Duration(i)*6*time.Hour)
		ds.Datetime[0][i] = last.Add(-time.Duration(n-1-i) * 6 * time.Hour)
		data[2*i], data[2*i+1] = float32(i), float32(i)
	}
	v, err := tensor.New([]tensor.Dim{tensor.Batch, tensor.Time, tensor.Lat, tensor.Lon}, []int{1, n, 2, 1}, data)
	require.NoError(t, err)
	ds.Vars["2m_temperature"] = v
	lsm, err := tensor.Full([]tensor.Dim{tensor.Lat, tensor.Lon}, []int{2, 1}, 1)
	require.NoError(t, err)
	ds.Vars["land_sea_mask"] = lsm
	require.NoError(t, ds.Validate())
	return ds
}

func TestRequiredSteps(t *testing.T) {
	assert.Equal(t, 42, RequiredSteps(40))
	assert.Equal(t, 2, RequiredSteps(0))
}

func TestSelectInput(t *testing.T) {
	ds := steps(t, 5, init0.Add(12*time.Hour))
	out, err := SelectInput(ds, init0, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 6 * time.Hour}, out.Time)
	assert.Equal(t, []time.Time{init0.Add(-6 * time.Hour), init0}, out.Datetime[0])
	assert.Equal(t, []float32{1, 1, 2, 2}, out.Vars["2m_temperature"].Data())
	assert.Same(t, ds.Vars["land_sea_mask"], out.Vars["land_sea_mask"])
	require.NoError(t, out.Validate())

	// the source is untouched
	assert.Len(t, ds.Time, 5)
}

func TestSelectInputErrors(t *testing.T) {
	tests := []struct {
		name string
		ds   *dataset.Dataset
		init time.Time
	}{
		{"init after the last step", steps(t, 3, init0), init0.Add(24 * time.Hour)},
		{"single step", steps(t, 1, init0), init0},
		{"no time axis", &dataset.Dataset{}, init0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectInput(tt.ds, tt.init, 6*time.Hour)
			assert.Error(t, err)
		})
	}
}

func TestExtend(t *testing.T) {
	ds := steps(t, 2, init0)
	out, err := Extend(ds, 4, 6*time.Hour)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	assert.Equal(t, []time.Duration{0, 6 * time.Hour, 12 * time.Hour, 18 * time.Hour}, out.Time)
	assert.Equal(t, []time.Time{
		init0.Add(-6 * time.Hour), init0, init0.Add(6 * time.Hour), init0.Add(12 * time.Hour),
	}, out.Datetime[0])

	data := out.Vars["2m_temperature"].Data()
	assert.Equal(t, []float32{0, 0, 1, 1}, data[:4])
	for _, v := range data[4:] {
		assert.True(t, math.IsNaN(float64(v)))
	}
	assert.Same(t, ds.Vars["land_sea_mask"], out.Vars["land_sea_mask"])
}

func TestExtendNeverTruncates(t *testing.T) {
	ds := steps(t, 5, init0)
	out, err := Extend(ds, 3, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ds.Time, out.Time)
	assert.Equal(t, ds.Vars["2m_temperature"].Data(), out.Vars["2m_temperature"].Data())
}

func TestExtendOffGrid(t *testing.T) {
	ds := steps(t, 2, init0)
	ds.Time[1] = 3 * time.Hour
	_, err := Extend(ds, 4, 6*time.Hour)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	ds, err := Extend(steps(t, 2, init0), RequiredSteps(3), 6*time.Hour)
	require.NoError(t, err)
	inputs, targets, err := Split(ds)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0, 6 * time.Hour}, inputs.Time)
	assert.Equal(t, []float32{0, 0, 1, 1}, inputs.Vars["2m_temperature"].Data())
	assert.Contains(t, inputs.Vars, "land_sea_mask")
	require.NoError(t, inputs.Validate())

	assert.Equal(t, []time.Duration{6 * time.Hour, 12 * time.Hour, 18 * time.Hour}, targets.Time)
	assert.Equal(t, init0.Add(18*time.Hour), targets.Datetime[0][2])
	assert.NotContains(t, targets.Vars, "land_sea_mask")
	tmpl := targets.Vars["2m_temperature"]
	assert.Equal(t, []int{1, 3, 2, 1}, tmpl.Shape())
	for _, v := range tmpl.Data() {
		assert.True(t, math.IsNaN(float64(v)))
	}
	require.NoError(t, targets.Validate())
}

func TestSplitTooShort(t *testing.T) {
	_, _, err := Split(steps(t, 2, init0))
	assert.Error(t, err)
}
