// Package field turns selected GRIB2 messages into labeled grids with
// ascending latitude, stacked pressure levels and a validity time.
package field

import (
	"fmt"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/NOAA-EMC/MLGEFS/tensor"
	"github.com/golang/glog"
)

// LabeledField is one variable of one source file at one validity time.
//
// Isobaric fields have dims (plevel, lat, lon) with Levels in hPa. Other
// fields keep the raw per-message level as a singleton leading (level) axis
// holding Height, which the assembler drops after merging.
type LabeledField struct {
	// Name is the extraction name, e.g. "TMP" or "TMP_2maboveground".
	Name      string
	Var       string
	LevelType catalog.LevelType
	Levels    []float64
	Height    float64
	// Time is the validity time, moved to the start of the window for
	// accumulated fields.
	Time     time.Time
	Ref      time.Time
	StepType string
	// Static fields are only read from the first cycle and carry no time.
	Static bool
	// Secondary fields only fill levels missing from the primary archive.
	Secondary bool
	// Lat is ascending.
	Lat  []float64
	Lon  []float64
	Data *tensor.Tensor
	File string
}

func (f *LabeledField) String() string {
	return fmt.Sprintf("%s@%s%v", f.Name, f.Time.UTC().Format("2006010215"), f.Data)
}

// ShapeError reports messages that do not reduce to a 2-D or 3-D grid.
type ShapeError struct {
	Variable string
	Level    string
	File     string
	Reason   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("bad shape for %s at %s in %s: %s", e.Variable, e.Level, e.File, e.Reason)
}

// Options carry the per-request flags of the extraction plan.
type Options struct {
	Static    bool
	Secondary bool
}

// Materialize builds one field per variable from the messages of one
// extraction. Messages sharing a variable and level are candidates of which
// the instantaneous one is kept. Isobaric messages of a variable are stacked
// in the order they were selected.
func Materialize(msgs []selector.RawMessage, opts Options) ([]*LabeledField, error) {
	type key struct{ v, level string }
	var order []key
	groups := map[key][]selector.RawMessage{}
	for _, m := range msgs {
		k := key{m.Var, m.LevelDesc}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}

	var out []*LabeledField
	stacks := map[string]int{}
	grids := map[string][]*tensor.Tensor{}
	for _, k := range order {
		m, err := pick(groups[k])
		if err != nil {
			return nil, err
		}
		grid, lat, err := toGrid(m)
		if err != nil {
			return nil, err
		}
		valid := validity(m)

		if m.LevelType != catalog.Isobaric {
			data, err := grid.Expand(tensor.Level, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, &LabeledField{
				Name:      catalog.RawName(m.Var, m.LevelDesc, false),
				Var:       m.Var,
				LevelType: m.LevelType,
				Height:    m.Level,
				Time:      valid,
				Ref:       m.Ref,
				StepType:  m.StepType,
				Static:    opts.Static,
				Secondary: opts.Secondary,
				Lat:       lat,
				Lon:       m.Lon,
				Data:      data,
				File:      m.File,
			})
			continue
		}

		i, ok := stacks[m.Var]
		if !ok {
			stacks[m.Var] = len(out)
			grids[m.Var] = []*tensor.Tensor{grid}
			out = append(out, &LabeledField{
				Name:      m.Var,
				Var:       m.Var,
				LevelType: catalog.Isobaric,
				Levels:    []float64{m.Level},
				Time:      valid,
				Ref:       m.Ref,
				StepType:  m.StepType,
				Static:    opts.Static,
				Secondary: opts.Secondary,
				Lat:       lat,
				Lon:       m.Lon,
				File:      m.File,
			})
			continue
		}
		f := out[i]
		if !f.Time.Equal(valid) {
			return nil, &ShapeError{Variable: m.Var, Level: m.LevelDesc, File: m.File,
				Reason: fmt.Sprintf("valid at %v, other levels at %v", valid, f.Time)}
		}
		if err := f.addLevel(m.Level, grid, grids[m.Var][0]); err != nil {
			return nil, &ShapeError{Variable: m.Var, Level: m.LevelDesc, File: m.File, Reason: err.Error()}
		}
		grids[m.Var] = append(grids[m.Var], grid)
	}
	for _, f := range out {
		if f.LevelType != catalog.Isobaric {
			continue
		}
		data, err := tensor.Stack(tensor.PLevel, grids[f.Var])
		if err != nil {
			return nil, &ShapeError{Variable: f.Var, Level: "isobaric levels", File: f.File, Reason: err.Error()}
		}
		f.Data = data
	}
	for _, f := range out {
		glog.V(1).Infof("materialized %v from %s", f, f.File)
	}
	return out, nil
}

// addLevel records level for a grid that is stacked once all levels are in.
func (f *LabeledField) addLevel(level float64, grid, first *tensor.Tensor) error {
	for _, l := range f.Levels {
		if l == level {
			return fmt.Errorf("level %g selected twice", level)
		}
	}
	if !sameShape(grid.Shape(), first.Shape()) {
		return fmt.Errorf("grid %v does not match %v of level %g", grid.Shape(), first.Shape(), f.Levels[0])
	}
	f.Levels = append(f.Levels, level)
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pick resolves candidates sharing a variable and level. Candidates that
// also share a step type are a selection error.
func pick(cands []selector.RawMessage) (selector.RawMessage, error) {
	if len(cands) == 1 {
		return cands[0], nil
	}
	byStep := map[string]int{}
	var instant []selector.RawMessage
	for _, m := range cands {
		byStep[m.StepType]++
		if m.StepType == "instant" {
			instant = append(instant, m)
		}
	}
	for _, m := range cands {
		if n := byStep[m.StepType]; n > 1 {
			return selector.RawMessage{}, &selector.SelectionError{Variable: m.Var, Level: m.LevelDesc, File: m.File,
				Want: 1, Got: n, StepType: m.StepType}
		}
	}
	if len(instant) != 1 {
		m := cands[0]
		return selector.RawMessage{}, &ShapeError{Variable: m.Var, Level: m.LevelDesc, File: m.File,
			Reason: fmt.Sprintf("%d candidate messages of which %d are instantaneous", len(cands), len(instant))}
	}
	glog.V(1).Infof("kept the instantaneous %s at %s out of %d candidates", instant[0].Var, instant[0].LevelDesc, len(cands))
	return instant[0], nil
}

// toGrid returns the (lat, lon) values of m with latitude ascending.
func toGrid(m selector.RawMessage) (*tensor.Tensor, []float64, error) {
	ny, nx := m.Shape()
	fail := func(format string, args ...any) error {
		return &ShapeError{Variable: m.Var, Level: m.LevelDesc, File: m.File, Reason: fmt.Sprintf(format, args...)}
	}
	if ny == 0 || nx == 0 {
		return nil, nil, fail("empty grid %dx%d", ny, nx)
	}
	if len(m.Values) != ny*nx {
		return nil, nil, fail("%d values for a %dx%d grid", len(m.Values), ny, nx)
	}
	t, err := tensor.New([]tensor.Dim{tensor.Lat, tensor.Lon}, []int{ny, nx}, append([]float32(nil), m.Values...))
	if err != nil {
		return nil, nil, fail("%v", err)
	}
	lat := append([]float64(nil), m.Lat...)
	if ny > 1 && lat[0] > lat[ny-1] {
		if t, err = t.Reverse(tensor.Lat); err != nil {
			return nil, nil, err
		}
		for i, j := 0, ny-1; i < j; i, j = i+1, j-1 {
			lat[i], lat[j] = lat[j], lat[i]
		}
	}
	return t, lat, nil
}

// validity stamps accumulated variables at the start of their window.
func validity(m selector.RawMessage) time.Time {
	if m.StepType != "accum" && !accumulated(m.Var) {
		return m.Valid
	}
	w := m.Window
	if w <= 0 {
		w = catalog.ArchiveStep
	}
	return m.Valid.Add(-w)
}

func accumulated(short string) bool {
	for _, v := range catalog.All() {
		if info := v.Info(); info.Short == short && info.Accumulated {
			return true
		}
	}
	return false
}
