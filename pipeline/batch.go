package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/NOAA-EMC/MLGEFS/assembler"
	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/golang/glog"
)

// StageBatch names training batch conversion in the stage duration metric.
const StageBatch = "batch"

var batchNameRegex = regexp.MustCompile(`^gec(\d{2})\.t(\d{2})z\.pgrb2\.(\d{8})\.(\dp\d{2})`)

// BatchName returns the training batch file name of a reforecast archive,
// "{YYYYMMDD}{HH}.{res}.{L}lvl.nc".
func BatchName(file string, levels int) (string, bool) {
	m := batchNameRegex.FindStringSubmatch(filepath.Base(file))
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s%s.%s.%dlvl.nc", m[3], m[2], m[4], levels), true
}

// Batch converts every reforecast archive in dir whose name ends in ".f000"
// into a training batch file in out and returns the written paths. Archives
// with unrecognized names are skipped.
func (p *Pipeline) Batch(ctx context.Context, dir, out string) ([]string, error) {
	if p.Profile.Family != catalog.Reforecast {
		return nil, fmt.Errorf("batch files are built from %s archives, not %s", catalog.Reforecast, p.Profile.Family)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".f000") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, name := range files {
		dst, ok := BatchName(name, p.Profile.Levels)
		if !ok {
			glog.Warningf("unable to parse file name %s, skipping", name)
			continue
		}
		start := p.clock().Now()
		src := filepath.Join(dir, name)
		fields, err := p.extract(ctx, p.Profile.Requests(), true, func(catalog.Request) (string, error) {
			return src, nil
		})
		if err != nil {
			return written, err
		}
		ds, err := assembler.Assemble(fields, p.Profile)
		if err != nil {
			return written, err
		}
		path := filepath.Join(out, dst)
		if err := ds.WriteFile(path); err != nil {
			return written, err
		}
		p.Metrics.ObserveStage(StageBatch, start, p.clock().Now())
		glog.Infof("saved %s", path)
		written = append(written, path)
	}
	return written, nil
}
