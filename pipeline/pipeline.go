// Package pipeline runs the stages of one forecast cycle: preparing the
// canonical input dataset, running the forecaster, encoding its output as
// GRIB2 and uploading the products.
package pipeline

import (
	"context"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/config"
	"github.com/NOAA-EMC/MLGEFS/encoder"
	"github.com/NOAA-EMC/MLGEFS/ledger"
	"github.com/NOAA-EMC/MLGEFS/metrics"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/NOAA-EMC/MLGEFS/storage"
	"github.com/NOAA-EMC/MLGEFS/wgrib2"
	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// Stage names, used for the ledger and the stage duration metric.
const (
	StagePrep     = "prep"
	StageForecast = "forecast"
	StageEncode   = "encode"
	StageUpload   = "upload"
)

// ErrCompleted is returned when the ledger records a stage of a cycle as
// already done and Config.Force is unset.
var ErrCompleted = errors.New("stage already completed")

// Pipeline holds the collaborators of the cycle stages. The zero values of
// Ledger, Uploader and Metrics disable them.
type Pipeline struct {
	Config  config.Config
	Profile catalog.Profile

	Extractor  selector.GridExtractor
	Forecaster Forecaster
	// Grid overrides the GRIB2 writer of the encoder.
	Grid encoder.GridEncoder
	// Runner runs wgrib2 for regional subsets.
	Runner wgrib2.Runner

	Ledger   *ledger.Ledger
	Uploader *storage.Uploader
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

// New builds a Pipeline from c, opening the ledger and the bucket it names.
func New(ctx context.Context, c config.Config, m *metrics.Metrics) (*Pipeline, error) {
	profile, err := c.Profile()
	if err != nil {
		return nil, err
	}
	runner := wgrib2.Command{Path: c.Wgrib2}
	p := &Pipeline{
		Config:  c,
		Profile: profile,
		Runner:  runner,
		Clock:   clockwork.NewRealClock(),
		Metrics: m,
	}
	switch c.Method {
	case config.MethodNative:
		p.Extractor = selector.FileExtractor{}
	default:
		p.Extractor = &wgrib2.Extractor{Runner: runner, TempDir: c.Work}
	}
	if len(c.ModelCommand) > 0 {
		p.Forecaster = &CommandForecaster{Command: c.ModelCommand}
	}
	if c.Ledger != "" {
		if p.Ledger, err = ledger.Open(c.Ledger); err != nil {
			return nil, err
		}
	}
	if c.Bucket != "" {
		b, err := storage.OpenBucket(ctx, c.Bucket)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Uploader = &storage.Uploader{Bucket: b, MaxElapsed: c.UploadTimeout, Metrics: m}
	}
	return p, nil
}

// Close releases the ledger and the bucket.
func (p *Pipeline) Close() error {
	var first error
	if p.Ledger != nil {
		first = p.Ledger.Close()
	}
	if p.Uploader != nil && p.Uploader.Bucket != nil {
		if err := p.Uploader.Bucket.Close(); first == nil {
			first = err
		}
	}
	return first
}

func (p *Pipeline) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// product is the ledger key of the profile.
func (p *Pipeline) product() string {
	if p.Profile.Member != "" {
		return p.Profile.Product() + "/" + p.Profile.Member
	}
	return p.Profile.Product()
}

// stage runs fn as stage of cycle, recording it in the ledger and the stage
// duration metric.
func (p *Pipeline) stage(ctx context.Context, cycle time.Time, name string, fn func() ([]string, error)) ([]string, error) {
	if p.Ledger != nil && !p.Config.Force {
		done, err := p.Ledger.Completed(ctx, cycle, p.product(), name)
		if err != nil {
			return nil, err
		}
		if done {
			glog.Infof("%s of %s %s already completed, skipping", name, p.product(), cycle.UTC().Format("2006010215"))
			return nil, ErrCompleted
		}
	}
	start := p.clock().Now()
	var id int64
	if p.Ledger != nil {
		var err error
		if id, err = p.Ledger.Start(ctx, cycle, p.product(), name, start); err != nil {
			return nil, err
		}
	}
	outputs, err := fn()
	end := p.clock().Now()
	p.Metrics.ObserveStage(name, start, end)
	if p.Ledger != nil {
		if lerr := p.Ledger.Finish(ctx, id, end, outputs, err); lerr != nil {
			glog.Errorf("failed to record %s of %s: %v", name, cycle.UTC().Format("2006010215"), lerr)
			if err == nil {
				err = lerr
			}
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", name, cycle.UTC().Format("2006010215"))
	}
	glog.Infof("%s of %s completed in %v", name, cycle.UTC().Format("2006010215"), end.Sub(start))
	return outputs, nil
}
