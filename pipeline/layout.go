package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/golang/glog"
)

// CycleDir returns the directory of the raw archives of one cycle,
// root/{YYYYMMDD}/{HH}.
func CycleDir(root string, cycle time.Time) string {
	cycle = cycle.UTC()
	return filepath.Join(root, cycle.Format("20060102"), fmt.Sprintf("%02d", cycle.Hour()))
}

// ArchivePath returns the path of the archive file of cycle for a request
// suffix.
func ArchivePath(root string, p catalog.Profile, cycle time.Time, suffix string) string {
	return filepath.Join(CycleDir(root, cycle), p.ArchiveName(cycle, suffix))
}

// ForecastDir returns the directory receiving the GRIB2 outputs of a run.
func ForecastDir(output string, levels int) string {
	return filepath.Join(output, fmt.Sprintf("forecasts_%d_levels", levels))
}

// lookback is how far before init the extracted cycles reach. Cumulative
// precipitation sums over the whole day before init.
func lookback(p catalog.Profile) time.Duration {
	if p.Precip() == catalog.PrecipCumulative && p.Cadence() < 24*time.Hour {
		return 24 * time.Hour
	}
	return p.Cadence()
}

// Cycles returns the archive cycles read for a forecast starting at init, in
// ascending order, and how many of the leading cycles may be absent.
func Cycles(p catalog.Profile, init time.Time) (cycles []time.Time, optional int) {
	init = init.UTC()
	first := init.Add(-lookback(p))
	required := init.Add(-p.Cadence())
	for c := first; !c.After(init); c = c.Add(catalog.ArchiveStep) {
		if c.Before(required) {
			optional++
		}
		cycles = append(cycles, c)
	}
	return cycles, optional
}

// LatestCycle returns the most recent cycle at or before now whose archive
// directory exists under root, looking back at most one day.
func LatestCycle(root string, now time.Time) (time.Time, error) {
	c := now.UTC().Truncate(catalog.ArchiveStep)
	for i := 0; i <= int(24*time.Hour/catalog.ArchiveStep); i++ {
		if _, err := os.Stat(CycleDir(root, c)); err == nil {
			return c, nil
		}
		c = c.Add(-catalog.ArchiveStep)
	}
	return time.Time{}, fmt.Errorf("no cycle under %s in the day before %s", root, now.UTC().Format(time.RFC3339))
}

// RemoveDownloaded deletes the archive directories of cycles and any day
// directory left empty.
func RemoveDownloaded(root string, cycles []time.Time) error {
	days := map[string]bool{}
	for _, c := range cycles {
		dir := CycleDir(root, c)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		glog.Infof("removed %s", dir)
		days[filepath.Dir(dir)] = true
	}
	for day := range days {
		entries, err := os.ReadDir(day)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(day); err != nil {
				return err
			}
		}
	}
	return nil
}
