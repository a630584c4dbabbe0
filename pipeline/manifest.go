package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ManifestName is the run manifest written next to the GRIB2 files.
const ManifestName = "manifest.toml"

// Manifest describes the products of one forecast run.
type Manifest struct {
	Product  string    `toml:"product"`
	Cycle    time.Time `toml:"cycle"`
	Family   string    `toml:"family"`
	Model    string    `toml:"model"`
	Member   string    `toml:"member,omitempty"`
	Levels   int       `toml:"levels"`
	Steps    int       `toml:"steps"`
	Input    string    `toml:"input"`
	Forecast string    `toml:"forecast"`
	// Files are relative to the manifest directory.
	Files    []string  `toml:"files"`
	Started  time.Time `toml:"started"`
	Finished time.Time `toml:"finished"`
}

func (p *Pipeline) manifest(init time.Time, res *Result, started time.Time) Manifest {
	m := Manifest{
		Product:  p.Profile.Product(),
		Cycle:    init.UTC(),
		Family:   string(p.Profile.Family),
		Model:    string(p.Profile.Model),
		Member:   p.Profile.Member,
		Levels:   p.Profile.Levels,
		Steps:    p.Config.ForecastLength,
		Input:    filepath.Base(res.Input),
		Forecast: filepath.Base(res.Forecast),
		Started:  started.UTC(),
		Finished: p.clock().Now().UTC(),
	}
	for _, f := range res.Files {
		rel, err := filepath.Rel(res.Dir, f)
		if err != nil {
			rel = f
		}
		m.Files = append(m.Files, filepath.ToSlash(rel))
	}
	return m
}

// WriteManifest writes m as TOML to path.
func WriteManifest(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return errors.Wrapf(err, "error encoding manifest %s", path)
	}
	return f.Close()
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, errors.Wrapf(err, "error decoding manifest %s", path)
	}
	return m, nil
}
