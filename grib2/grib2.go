// Package grib2 decodes and encodes GRIB edition 2 messages on regular
// latitude/longitude grids.
//
// GRIB2 is specified here: https://library.wmo.int/doc_num.php?explnum_id=11283
//
// The decoder understands grid template 3.0, product templates 4.0, 4.1, 4.8
// and 4.11, data representation templates 5.0, 5.2 and 5.3, and bitmaps. The
// encoder writes templates 3.0, 4.0 or 4.8, and 5.0.
package grib2

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Code table 4.5 fixed surface types used by the pipeline.
const (
	SurfaceGround      uint8 = 1
	SurfaceIsobaric    uint8 = 100
	SurfaceMeanSea     uint8 = 101
	SurfaceHeightAbove uint8 = 103
	SurfaceMissing     uint8 = 255
)

// Code table 4.10 statistical processes.
const (
	ProcessAverage      uint8 = 0
	ProcessAccumulation uint8 = 1
)

// CentreNCEP is the originating centre written by the encoder.
const CentreNCEP = 7

// Grid is a regular latitude/longitude grid (template 3.0). Coordinates are in
// degrees; longitudes are in [0, 360).
type Grid struct {
	Ni, Nj   int
	La1, Lo1 float64
	La2, Lo2 float64
	Di, Dj   float64
	// ScanMode is flag table 3.4. 0 scans west to east starting in the north.
	ScanMode uint8
}

// Points returns the number of grid points.
func (g Grid) Points() int { return g.Ni * g.Nj }

// Lats returns the row latitudes in scan order.
func (g Grid) Lats() []float64 {
	out := make([]float64, g.Nj)
	step := g.Dj
	if g.La2 < g.La1 {
		step = -step
	}
	for j := range out {
		out[j] = g.La1 + float64(j)*step
	}
	return out
}

// Lons returns the column longitudes in scan order.
func (g Grid) Lons() []float64 {
	out := make([]float64, g.Ni)
	step := g.Di
	if g.ScanMode&0x80 != 0 {
		step = -step
	}
	for i := range out {
		out[i] = math.Mod(g.Lo1+float64(i)*step+360, 360)
	}
	return out
}

// Interval describes a statistically processed field (templates 4.8 and 4.11).
type Interval struct {
	Process uint8
	// Hours is the length of the processing window.
	Hours int
}

// Field is one decoded GRIB2 product on a Grid.
type Field struct {
	Discipline uint8
	Centre     uint16
	RefTime    time.Time

	Category, Number uint8
	SurfaceType      uint8
	// SurfaceValue is the first fixed surface in SI units (Pa, m).
	SurfaceValue float64
	// Forecast is the forecast time in hours. For processed fields it is the
	// start of the window.
	Forecast int
	Interval *Interval

	Grid Grid
	// Values holds Nj rows of Ni points in scan order. Missing points are NaN.
	Values []float32
}

// ValidTime is the end of the field's validity window.
func (f *Field) ValidTime() time.Time {
	h := f.Forecast
	if f.Interval != nil {
		h += f.Interval.Hours
	}
	return f.RefTime.Add(time.Duration(h) * time.Hour)
}

// StepType returns "instant", "accum" or "avg".
func (f *Field) StepType() string {
	if f.Interval == nil {
		return "instant"
	}
	switch f.Interval.Process {
	case ProcessAccumulation:
		return "accum"
	case ProcessAverage:
		return "avg"
	}
	return fmt.Sprintf("stat%d", f.Interval.Process)
}

// ShortName returns the wgrib2 abbreviation of the field's parameter.
func (f *Field) ShortName() string { return ShortName(f.Discipline, f.Category, f.Number) }

// LevelDescription returns the level as wgrib2 prints it, e.g. "500 mb" or
// "2 m above ground".
func (f *Field) LevelDescription() string {
	switch f.SurfaceType {
	case SurfaceGround:
		return "surface"
	case SurfaceMeanSea:
		return "mean sea level"
	case SurfaceIsobaric:
		return formatNumber(f.SurfaceValue/100) + " mb"
	case SurfaceHeightAbove:
		return formatNumber(f.SurfaceValue) + " m above ground"
	}
	return fmt.Sprintf("level type %d value %s", f.SurfaceType, formatNumber(f.SurfaceValue))
}

// ForecastDescription returns the forecast time as wgrib2 prints it, e.g.
// "anl", "6 hour fcst" or "0-6 hour acc fcst".
func (f *Field) ForecastDescription() string {
	if f.Interval == nil {
		if f.Forecast == 0 {
			return "anl"
		}
		return fmt.Sprintf("%d hour fcst", f.Forecast)
	}
	kind := "acc"
	if f.Interval.Process == ProcessAverage {
		kind = "ave"
	}
	return fmt.Sprintf("%d-%d hour %s fcst", f.Forecast, f.Forecast+f.Interval.Hours, kind)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type paramKey struct{ discipline, category, number uint8 }

var shortNames = map[paramKey]string{
	{0, 0, 0}: "TMP",
	{0, 0, 4}: "TMAX",
	{0, 0, 5}: "TMIN",
	{0, 0, 6}: "DPT",
	{0, 1, 0}: "SPFH",
	{0, 1, 1}: "RH",
	{0, 1, 7}: "PRATE",
	{0, 1, 8}: "APCP",
	{0, 2, 2}: "UGRD",
	{0, 2, 3}: "VGRD",
	{0, 2, 8}: "VVEL",
	{0, 3, 0}: "PRES",
	{0, 3, 1}: "PRMSL",
	{0, 3, 5}: "HGT",
	{0, 6, 1}: "TCDC",
	{2, 0, 0}: "LAND",
}

// ShortName returns the abbreviation of a parameter, or "var{d}_{c}_{n}" if it
// is not known.
func ShortName(discipline, category, number uint8) string {
	if s, ok := shortNames[paramKey{discipline, category, number}]; ok {
		return s
	}
	return fmt.Sprintf("var%d_%d_%d", discipline, category, number)
}
