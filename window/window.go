// Package window adjusts the time axis of canonical datasets: the two-step
// model input, the extension to a forecast length and the split into inputs
// and a target template.
package window

import (
	"fmt"
	"math"
	"time"

	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"
)

// InputSteps is the number of steps the model is seeded with.
const InputSteps = 2

// RequiredSteps returns the number of steps a dataset needs to carry a
// forecast of forecastLength model steps.
func RequiredSteps(forecastLength int) int { return forecastLength + InputSteps }

// SelectInput keeps the two steps nearest init-cadence and init and rebases
// time on the first of them.
func SelectInput(ds *dataset.Dataset, init time.Time, cadence time.Duration) (*dataset.Dataset, error) {
	if ds.Batch() == 0 || len(ds.Time) == 0 {
		return nil, fmt.Errorf("dataset has no time axis")
	}
	row := ds.Datetime[0]
	dist := make([]float64, len(row))
	var idx []int
	for _, target := range []time.Time{init.Add(-cadence), init} {
		for i, t := range row {
			dist[i] = math.Abs(float64(t.Sub(target)))
		}
		i := floats.MinIdx(dist)
		if time.Duration(dist[i]) >= cadence/2 {
			return nil, fmt.Errorf("no step near %v, nearest is %v", target.UTC(), row[i].UTC())
		}
		idx = append(idx, i)
	}
	if idx[0] >= idx[1] {
		return nil, fmt.Errorf("need two distinct steps for %v, got %v", init.UTC(), row)
	}
	out, err := selectTimes(ds, idx)
	if err != nil {
		return nil, err
	}
	base := out.Time[0]
	for i := range out.Time {
		out.Time[i] -= base
	}
	glog.V(1).Infof("selected input steps %v", out.Datetime[0])
	return out, nil
}

func selectTimes(ds *dataset.Dataset, idx []int) (*dataset.Dataset, error) {
	out := ds.Copy()
	out.Time = make([]time.Duration, len(idx))
	for i, k := range idx {
		if k >= 0 {
			out.Time[i] = ds.Time[k]
		}
	}
	for b, row := range ds.Datetime {
		out.Datetime[b] = make([]time.Time, len(idx))
		for i, k := range idx {
			if k >= 0 {
				out.Datetime[b][i] = row[k]
			}
		}
	}
	for name, v := range ds.Vars {
		if !v.Has(tensor.Time) {
			continue
		}
		s, err := v.Select(tensor.Time, idx)
		if err != nil {
			return nil, fmt.Errorf("error selecting steps of %s: %w", name, err)
		}
		out.Vars[name] = s
	}
	return out, nil
}

// Extend reindexes time onto i*cadence for i < steps. Existing steps must lie
// on that grid; new steps are missing for time-varying variables and their
// datetime continues from the last known value. A dataset that already has
// steps or more steps is returned unchanged.
func Extend(ds *dataset.Dataset, steps int, cadence time.Duration) (*dataset.Dataset, error) {
	n := len(ds.Time)
	if n == 0 || ds.Batch() == 0 {
		return nil, fmt.Errorf("dataset has no time axis")
	}
	if n >= steps {
		return ds.Copy(), nil
	}
	idx := make([]int, steps)
	for i := range idx {
		idx[i] = -1
	}
	for k, t := range ds.Time {
		if t%cadence != 0 {
			return nil, fmt.Errorf("step %v is not a multiple of %v", t, cadence)
		}
		i := int(t / cadence)
		if i < 0 || i >= steps {
			return nil, fmt.Errorf("step %v outside the extended axis of %d steps", t, steps)
		}
		idx[i] = k
	}
	out, err := selectTimes(ds, idx)
	if err != nil {
		return nil, err
	}
	for i := range out.Time {
		out.Time[i] = time.Duration(i) * cadence
	}
	for b, row := range ds.Datetime {
		last := row[n-1]
		lastStep := int(ds.Time[n-1] / cadence)
		for i := range out.Datetime[b] {
			if idx[i] < 0 {
				out.Datetime[b][i] = last.Add(time.Duration(i-lastStep) * cadence)
			}
		}
	}
	glog.Infof("extended time axis from %d to %d steps of %v", n, steps, cadence)
	return out, nil
}

// Split returns the first two steps as model inputs and the remaining
// time-varying variables, filled with missing values, as the target
// template. Target times are lead times from the last input step.
func Split(ds *dataset.Dataset) (inputs, targets *dataset.Dataset, err error) {
	n := len(ds.Time)
	if n <= InputSteps {
		return nil, nil, fmt.Errorf("dataset has %d steps, need more than %d", n, InputSteps)
	}
	in := make([]int, InputSteps)
	for i := range in {
		in[i] = i
	}
	if inputs, err = selectTimes(ds, in); err != nil {
		return nil, nil, err
	}

	rest := make([]int, 0, n-InputSteps)
	for i := InputSteps; i < n; i++ {
		rest = append(rest, i)
	}
	if targets, err = selectTimes(ds, rest); err != nil {
		return nil, nil, err
	}
	init := ds.Time[InputSteps-1]
	for i := range targets.Time {
		targets.Time[i] -= init
	}
	for name, v := range targets.Vars {
		if !v.Has(tensor.Time) {
			delete(targets.Vars, name)
			continue
		}
		nan, err := tensor.NaNs(v.Dims(), v.Shape())
		if err != nil {
			return nil, nil, err
		}
		targets.Vars[name] = nan
	}
	return inputs, targets, nil
}
