package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NOAA-EMC/MLGEFS/assembler"
	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/NOAA-EMC/MLGEFS/field"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/NOAA-EMC/MLGEFS/wgrib2"
	"github.com/NOAA-EMC/MLGEFS/window"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// InputPath returns the canonical input dataset of the forecast starting at
// init.
func (p *Pipeline) InputPath(init time.Time) string {
	return filepath.Join(p.Config.Work, p.Profile.DatasetName(init, window.InputSteps))
}

// Prepare extracts the archives of the cycles before init, assembles them
// and writes the two-step canonical input dataset. It returns the dataset
// path. The archives are removed afterwards unless Config.Keep is set; on
// error they are always kept.
func (p *Pipeline) Prepare(ctx context.Context, init time.Time) (string, error) {
	init = init.UTC()
	path := p.InputPath(init)
	_, err := p.stage(ctx, init, StagePrep, func() ([]string, error) {
		return []string{path}, p.prepare(ctx, init, path)
	})
	return path, err
}

func (p *Pipeline) prepare(ctx context.Context, init time.Time, path string) error {
	cycles, optional := Cycles(p.Profile, init)
	var fields []*field.LabeledField
	var read []time.Time
	for i, c := range cycles {
		dir := CycleDir(p.Config.Root, c)
		if _, err := os.Stat(dir); err != nil {
			if i < optional && os.IsNotExist(err) {
				glog.Warningf("cycle directory %s not found, skipping", dir)
				continue
			}
			return errors.Wrapf(err, "error reading cycle %s", c.Format("2006010215"))
		}
		glog.Infof("extracting cycle %s from %s", c.Format("2006010215"), dir)
		fs, err := p.extract(ctx, p.Profile.Requests(), len(read) == 0, func(r catalog.Request) (string, error) {
			if r.File == "" {
				return "", fmt.Errorf("request %s %s names no archive file", r.Variable, r.Level)
			}
			return ArchivePath(p.Config.Root, p.Profile, c, r.File), nil
		})
		if err != nil {
			return err
		}
		fields = append(fields, fs...)
		read = append(read, c)
	}

	ds, err := assembler.Assemble(fields, p.Profile)
	if err != nil {
		return err
	}
	if ds, err = window.SelectInput(ds, init, p.Profile.Cadence()); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := ds.WriteFile(path); err != nil {
		return err
	}
	glog.Infof("wrote input dataset %s", path)

	if p.Config.Keep {
		glog.Infof("keeping raw archives of %d cycles under %s", len(read), p.Config.Root)
		return nil
	}
	return RemoveDownloaded(p.Config.Root, read)
}

// extract runs every request against the file chosen by file and
// materializes the selected messages. Static requests only run when static
// is set.
func (p *Pipeline) extract(ctx context.Context, reqs []catalog.Request, static bool, file func(catalog.Request) (string, error)) ([]*field.LabeledField, error) {
	var out []*field.LabeledField
	for _, r := range reqs {
		if r.Static && !static {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := file(r)
		if err != nil {
			return nil, err
		}
		q, err := selector.NewQuery(r.Variable, r.Level)
		if err != nil {
			return nil, err
		}
		msgs, err := p.Extractor.Extract(ctx, path, q)
		if err != nil {
			var se *wgrib2.SubprocessError
			if errors.As(err, &se) {
				p.Metrics.SubprocessFailed()
			}
			return nil, errors.Wrapf(err, "error extracting %s %s from %s", r.Variable, r.Level, path)
		}
		p.Metrics.Selected(len(msgs))
		fs, err := field.Materialize(msgs, field.Options{Static: r.Static, Secondary: r.Secondary})
		if err != nil {
			return nil, err
		}
		p.Metrics.Materialized(len(fs))
		glog.V(1).Infof("%s %s from %s: %d messages, %d fields", r.Variable, r.Level, path, len(msgs), len(fs))
		out = append(out, fs...)
	}
	return out, nil
}
