package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/dataset"
	"github.com/NOAA-EMC/MLGEFS/encoder"
	"github.com/NOAA-EMC/MLGEFS/storage"
	"github.com/NOAA-EMC/MLGEFS/wgrib2"
	"github.com/NOAA-EMC/MLGEFS/window"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Job names the files exchanged with a forecaster.
type Job struct {
	// Inputs holds the two seed steps.
	Inputs string
	// Targets is the NaN-filled template of the steps to predict.
	Targets string
	// Output receives the predicted dataset.
	Output string
	Steps  int
}

// Forecaster runs the model of one job.
type Forecaster interface {
	Forecast(ctx context.Context, job Job) error
}

// CommandForecaster runs an external model command as
//
//	command... -i inputs -t targets -o output
type CommandForecaster struct {
	Command []string
	// Runner replaces the subprocess in tests.
	Runner wgrib2.Runner
}

// Forecast implements Forecaster.
func (c *CommandForecaster) Forecast(ctx context.Context, job Job) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("no model command configured")
	}
	runner := c.Runner
	if runner == nil {
		runner = wgrib2.Command{Path: c.Command[0]}
	}
	args := append(append([]string(nil), c.Command[1:]...),
		"-i", job.Inputs, "-t", job.Targets, "-o", job.Output)
	glog.Infof("running %s for %d steps", strings.Join(c.Command, " "), job.Steps)
	var out bytes.Buffer
	if err := runner.Run(ctx, nil, &out, args...); err != nil {
		return err
	}
	if out.Len() > 0 {
		glog.V(1).Infof("model output: %s", strings.TrimSpace(out.String()))
	}
	return nil
}

// Result lists the products of one forecast run.
type Result struct {
	Input    string
	Forecast string
	// Dir holds the GRIB2 files and the manifest.
	Dir      string
	Files    []string
	Manifest string
	// Keys are the uploaded objects.
	Keys []string
}

func (p *Pipeline) jobFiles(init time.Time) Job {
	stamp := init.UTC().Format("2006010215")
	return Job{
		Inputs:  filepath.Join(p.Config.Work, fmt.Sprintf("inputs_%s.nc", stamp)),
		Targets: filepath.Join(p.Config.Work, fmt.Sprintf("targets_%s.nc", stamp)),
		Output: filepath.Join(p.Config.Work, fmt.Sprintf("forecast_%s_levels-%d_steps-%d.nc",
			stamp, p.Config.Levels, p.Config.ForecastLength)),
		Steps: p.Config.ForecastLength,
	}
}

// Forecast runs the model on the canonical input of init, encodes the
// prediction and uploads the products when a bucket is configured.
func (p *Pipeline) Forecast(ctx context.Context, init time.Time) (*Result, error) {
	init = init.UTC()
	if p.Forecaster == nil {
		return nil, fmt.Errorf("no forecaster configured")
	}
	res := &Result{Input: p.InputPath(init)}
	job := p.jobFiles(init)
	_, err := p.stage(ctx, init, StageForecast, func() ([]string, error) {
		return []string{job.Output}, p.forecast(ctx, init, res.Input, job)
	})
	if err != nil {
		return nil, err
	}
	res.Forecast = job.Output
	if err := p.encodeAndUpload(ctx, init, res); err != nil {
		return nil, err
	}
	if !p.Config.Keep {
		for _, f := range []string{job.Inputs, job.Targets, job.Output} {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				glog.Warningf("failed to remove %s: %v", f, err)
			}
		}
	}
	return res, nil
}

func (p *Pipeline) forecast(ctx context.Context, init time.Time, input string, job Job) error {
	ds, err := dataset.ReadFile(input)
	if err != nil {
		return errors.Wrapf(err, "error reading input %s", input)
	}
	cadence := p.Profile.Cadence()
	if ds, err = window.Extend(ds, window.RequiredSteps(job.Steps), cadence); err != nil {
		return err
	}
	inputs, targets, err := window.Split(ds)
	if err != nil {
		return err
	}
	if err := inputs.WriteFile(job.Inputs); err != nil {
		return err
	}
	if err := targets.WriteFile(job.Targets); err != nil {
		return err
	}
	glog.Infof("forecasting %d steps of %v from %s", job.Steps, cadence, init.Format("2006-01-02 15:04"))
	if err := p.Forecaster.Forecast(ctx, job); err != nil {
		var se *wgrib2.SubprocessError
		if errors.As(err, &se) {
			p.Metrics.SubprocessFailed()
		}
		return errors.Wrap(err, "error running forecaster")
	}
	if _, err := os.Stat(job.Output); err != nil {
		return errors.Wrap(err, "forecaster wrote no output")
	}
	return nil
}

// Encode writes the forecast dataset at path as GRIB2 files and uploads them
// when a bucket is configured.
func (p *Pipeline) Encode(ctx context.Context, init time.Time, path string) (*Result, error) {
	res := &Result{Input: p.InputPath(init.UTC()), Forecast: path}
	if err := p.encodeAndUpload(ctx, init.UTC(), res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) encodeAndUpload(ctx context.Context, init time.Time, res *Result) error {
	res.Dir = ForecastDir(p.Config.Output, p.Config.Levels)
	started := p.clock().Now()
	files, err := p.stage(ctx, init, StageEncode, func() ([]string, error) {
		return p.encode(ctx, init, res.Forecast, res.Dir)
	})
	switch {
	case errors.Is(err, ErrCompleted):
		glog.Infof("reusing encoded files in %s", res.Dir)
	case err != nil:
		return err
	default:
		res.Files = files
		m := p.manifest(init, res, started)
		res.Manifest = filepath.Join(res.Dir, ManifestName)
		if err := WriteManifest(res.Manifest, m); err != nil {
			return err
		}
	}
	if p.Uploader == nil {
		return nil
	}
	keys, err := p.stage(ctx, init, StageUpload, func() ([]string, error) {
		return p.upload(ctx, init, res)
	})
	if errors.Is(err, ErrCompleted) {
		return nil
	}
	if err != nil {
		return err
	}
	res.Keys = keys
	if !p.Config.Keep {
		glog.Infof("removing local input %s and forecasts %s", res.Input, res.Dir)
		if err := os.RemoveAll(res.Dir); err != nil {
			return err
		}
		if err := os.Remove(res.Input); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (p *Pipeline) encode(ctx context.Context, init time.Time, path, dir string) ([]string, error) {
	ds, err := dataset.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading forecast %s", path)
	}
	opts := encoder.Options{
		Product: p.Profile.Product(),
		Init:    init,
		Cadence: p.Profile.Cadence(),
		Drop:    p.Profile.DropBeforeEncoding(),
		Runner:  p.Runner,
	}
	if p.Config.Region {
		region := wgrib2.NorthAmerica
		opts.Region = &region
	}
	e := encoder.New(opts)
	e.Metrics = p.Metrics
	if p.Grid != nil {
		e.Grid = p.Grid
	}
	return e.Encode(ctx, ds, dir)
}

func (p *Pipeline) upload(ctx context.Context, init time.Time, res *Result) ([]string, error) {
	product := p.Profile.Product()
	var keys []string
	if _, err := os.Stat(res.Input); err == nil {
		key := storage.InputKey(product, init, filepath.Base(res.Input))
		if err := p.Uploader.Upload(ctx, res.Input, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	} else {
		glog.Warningf("input %s not found, uploading forecasts only", res.Input)
	}
	tree, err := p.Uploader.UploadTree(ctx, res.Dir, func(rel string) string {
		return storage.ForecastKey(product, init, p.Config.Levels, rel)
	})
	if err != nil {
		return nil, err
	}
	return append(keys, tree...), nil
}
