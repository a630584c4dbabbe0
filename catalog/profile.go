package catalog

import (
	"fmt"
	"time"
)

// Family identifies the source archive.
type Family string

const (
	GDAS Family = "gdas"
	GEFS Family = "gefs"
	// Reforecast is the GEFS reforecast archive used for training batches.
	Reforecast Family = "reforecast"
)

// Model identifies the downstream forecaster, which fixes the cadence.
type Model string

const (
	GraphCast Model = "graphcast"
	GenCast   Model = "gencast"
)

// Cadence returns the model's native time step.
func (m Model) Cadence() time.Duration {
	if m == GenCast {
		return 12 * time.Hour
	}
	return 6 * time.Hour
}

// PrecipMode describes how the precipitation channel is derived.
type PrecipMode int

const (
	// PrecipCumulative sums the 6-hourly accumulations along time.
	PrecipCumulative PrecipMode = iota
	// PrecipDirect uses the extracted accumulation unchanged.
	PrecipDirect
	// PrecipZero fills the channel with zeros.
	PrecipZero
)

// ArchiveStep is the spacing of the source analysis cycles.
const ArchiveStep = 6 * time.Hour

// Request is one extraction from one archive file of a cycle.
type Request struct {
	// File is the archive suffix after "t{HH}z.", e.g. "pgrb2.0p25.f000".
	// An empty File means whichever file the caller supplies.
	File string
	// Variable and Level are wgrib2 match patterns.
	Variable string
	Level    string
	// Static requests are read from the first cycle only.
	Static bool
	// Secondary requests fill levels that the primary archive lacks.
	Secondary bool
}

// Profile binds a source family, a model and a level count to an extraction
// plan and the derived-field rules of the assembled dataset.
type Profile struct {
	Family Family
	Model  Model
	Levels int
	// Member is the ensemble member id for GEFS files ("c00", "p01", ...).
	Member string
}

// NewProfile validates its arguments and returns a Profile.
func NewProfile(family Family, model Model, levels int, member string) (Profile, error) {
	switch family {
	case GDAS, Reforecast:
	case GEFS:
		if member == "" {
			return Profile{}, fmt.Errorf("gefs profile requires a member id")
		}
	default:
		return Profile{}, fmt.Errorf("unknown source family %q", family)
	}
	switch model {
	case GraphCast, GenCast:
	default:
		return Profile{}, fmt.Errorf("unknown model %q", model)
	}
	if _, err := PressureLevels(levels); err != nil {
		return Profile{}, err
	}
	if family == Reforecast && levels == 37 {
		return Profile{}, fmt.Errorf("reforecast archives carry 13 or 31 levels, not 37")
	}
	return Profile{Family: family, Model: model, Levels: levels, Member: member}, nil
}

// Cadence is the model time step.
func (p Profile) Cadence() time.Duration { return p.Model.Cadence() }

// Precip returns the precipitation derivation rule.
func (p Profile) Precip() PrecipMode {
	switch p.Family {
	case GEFS:
		return PrecipZero
	case Reforecast:
		return PrecipDirect
	}
	return PrecipCumulative
}

// PrecipVariable returns the precipitation channel matching the cadence.
func (p Profile) PrecipVariable() Variable {
	if p.Cadence() == 12*time.Hour {
		return TotalPrecipitation12hr
	}
	return TotalPrecipitation6hr
}

// MaskSST reports whether the dataset carries a land-masked sea surface
// temperature.
func (p Profile) MaskSST() bool { return p.Family == GDAS }

// FilePrefix is the per-cycle archive file prefix before ".t{HH}z".
func (p Profile) FilePrefix() string {
	switch p.Family {
	case GEFS:
		return "ge" + p.Member
	case Reforecast:
		return "gec" + p.Member
	}
	return "gdas"
}

// Product is the name stem of the GRIB2 output files.
func (p Profile) Product() string {
	suffix := "gfs"
	if p.Family != GDAS {
		suffix = "gefs"
	}
	return string(p.Model) + suffix
}

// Variables returns the canonical variables an assembled dataset must carry.
func (p Profile) Variables() []Variable {
	out := []Variable{
		GeopotentialAtSurface, LandSeaMask,
		MeanSeaLevelPressure, Temperature2m, UWind10m, VWind10m,
		p.PrecipVariable(),
		Geopotential, Temperature, SpecificHumidity, VerticalVelocity, UWind, VWind,
	}
	if p.MaskSST() {
		out = append(out, SeaSurfaceTemperature)
	}
	return out
}

// DropBeforeEncoding lists forecast variables that have no GRIB2 output entry
// and are removed before encoding.
func (p Profile) DropBeforeEncoding() []string {
	if p.Model == GenCast {
		return []string{SeaSurfaceTemperature.String()}
	}
	return nil
}

// Rename maps raw extraction names to canonical names.
func (p Profile) Rename() map[string]string {
	out := map[string]string{
		"latitude":  "lat",
		"longitude": "lon",
		"plevel":    "level",
	}
	for _, v := range p.Variables() {
		info := v.Info()
		out[info.Raw] = info.Name
	}
	return out
}

var isobaricShorts = []string{"SPFH", "VVEL", "VGRD", "UGRD", "HGT", "TMP"}

// Requests returns the extraction plan of the profile.
func (p Profile) Requests() []Request {
	primary, secondary, _ := SplitLevels(p.Levels)
	isobaric := VariablePattern(isobaricShorts...)
	wind10 := Request{Variable: VariablePattern("VGRD", "UGRD"), Level: ":10 m above ground:"}
	t2m := Request{Variable: ":TMP:", Level: ":2 m above ground:"}
	mslp := Request{Variable: ":PRMSL:", Level: ":mean sea level:"}
	hgt := Request{Variable: ":HGT:", Level: ":surface:", Static: true}
	land := Request{Variable: ":LAND:", Level: ":surface:", Static: true}
	levels := Request{Variable: isobaric, Level: IsobaricPattern(primary)}

	var out []Request
	switch p.Family {
	case GDAS:
		for _, r := range []Request{hgt, land, t2m, {Variable: ":TMP:", Level: ":surface:"}, mslp, wind10, levels} {
			r.File = "pgrb2.0p25.f000"
			out = append(out, r)
		}
		out = append(out, Request{File: "pgrb2.0p25.f006", Variable: ":APCP:", Level: ":surface:"})
	case GEFS:
		for _, r := range []Request{hgt, t2m, mslp, wind10} {
			r.File = "pgrb2s.0p25.f000"
			out = append(out, r)
		}
		for _, r := range []Request{land, levels} {
			r.File = "pgrb2.0p25.f000"
			out = append(out, r)
		}
	case Reforecast:
		out = append(out, hgt, t2m, mslp, wind10, levels,
			Request{Variable: ":APCP:", Level: ":surface:"}, land)
	}
	if len(secondary) > 0 {
		out = append(out, Request{
			File:      "pgrb2b.0p25.f000",
			Variable:  isobaric,
			Level:     IsobaricPattern(secondary),
			Secondary: true,
		})
	}
	return out
}

// ArchiveName returns the archive file name of a cycle for a request suffix.
func (p Profile) ArchiveName(cycle time.Time, suffix string) string {
	return fmt.Sprintf("%s.t%02dz.%s", p.FilePrefix(), cycle.Hour(), suffix)
}

// DatasetName returns the canonical file name of an assembled dataset.
func (p Profile) DatasetName(init time.Time, steps int) string {
	return fmt.Sprintf("source-%s_date-%s_res-0.25_levels-%d_steps-%d.nc",
		p.Family, init.UTC().Format("2006010215"), p.Levels, steps)
}
