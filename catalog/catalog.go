// Package catalog is the static table of canonical variables, their GRIB2
// identities, pressure-level sets and the rename table between raw extraction
// names and canonical names.
package catalog

import (
	"fmt"
	"strings"
)

// StandardGravity converts geopotential height (m) to geopotential (m² s⁻²).
const StandardGravity = 9.80665

// WaterDensity converts precipitation amount (kg m⁻²) to depth (m).
const WaterDensity = 1000

// LevelType identifies the kind of vertical coordinate for a field.
type LevelType int

const (
	Surface LevelType = iota
	HeightAboveGround
	MeanSea
	Isobaric
)

// SurfaceCode returns the GRIB2 code table 4.5 value for the level type.
func (l LevelType) SurfaceCode() uint8 {
	switch l {
	case HeightAboveGround:
		return 103
	case MeanSea:
		return 101
	case Isobaric:
		return 100
	default:
		return 1
	}
}

func (l LevelType) String() string {
	switch l {
	case HeightAboveGround:
		return "heightAboveGround"
	case MeanSea:
		return "meanSea"
	case Isobaric:
		return "isobaricInhPa"
	default:
		return "surface"
	}
}

// LevelTypeFromCode is the inverse of SurfaceCode.
func LevelTypeFromCode(code uint8) (LevelType, bool) {
	switch code {
	case 1:
		return Surface, true
	case 100:
		return Isobaric, true
	case 101:
		return MeanSea, true
	case 103:
		return HeightAboveGround, true
	}
	return Surface, false
}

// Variable is a canonical variable of the model dataset.
type Variable int

const (
	GeopotentialAtSurface Variable = iota
	LandSeaMask
	MeanSeaLevelPressure
	Temperature2m
	SeaSurfaceTemperature
	UWind10m
	VWind10m
	TotalPrecipitation6hr
	TotalPrecipitation12hr
	TotalPrecipitation
	Geopotential
	Temperature
	SpecificHumidity
	VerticalVelocity
	UWind
	VWind
	numVariables
)

// Info is the static data associated with a Variable.
type Info struct {
	// Name is the canonical dataset name.
	Name string
	// Short is the GRIB2 abbreviation printed by wgrib2 (HGT, TMP, ...).
	Short string
	// Raw is the name the variable has after extraction and before renaming.
	Raw       string
	LevelType LevelType
	// Height is the fixed level of height-above-ground fields in metres.
	Height float64
	// Static fields are time invariant and carry no time or batch dimension.
	Static bool
	// Accumulated fields are valid over an interval ending at the validity time.
	Accumulated bool
	// Scale converts raw units to canonical units.
	Scale float64

	// Physical is the CF standard name and Units the GRIB2 unit string.
	Physical string
	Units    string

	Discipline, Category, Number uint8
	// Encoded reports whether the variable has an entry in the GRIB2 output table.
	Encoded bool
}

// Leveled reports whether the variable is defined on pressure levels.
func (i Info) Leveled() bool { return i.LevelType == Isobaric }

var infos = [numVariables]Info{
	GeopotentialAtSurface: {
		Name: "geopotential_at_surface", Short: "HGT", Raw: "HGT_surface",
		LevelType: Surface, Static: true, Scale: StandardGravity,
		Physical: "surface_geopotential", Units: "m",
		Discipline: 0, Category: 3, Number: 5,
	},
	LandSeaMask: {
		Name: "land_sea_mask", Short: "LAND", Raw: "LAND_surface",
		LevelType: Surface, Static: true, Scale: 1,
		Physical: "land_binary_mask", Units: "1",
		Discipline: 2, Category: 0, Number: 0,
	},
	MeanSeaLevelPressure: {
		Name: "mean_sea_level_pressure", Short: "PRMSL", Raw: "PRMSL_meansealevel",
		LevelType: MeanSea, Scale: 1,
		Physical: "air_pressure_at_sea_level", Units: "Pa",
		Discipline: 0, Category: 3, Number: 1, Encoded: true,
	},
	Temperature2m: {
		Name: "2m_temperature", Short: "TMP", Raw: "TMP_2maboveground",
		LevelType: HeightAboveGround, Height: 2, Scale: 1,
		Physical: "air_temperature", Units: "K",
		Discipline: 0, Category: 0, Number: 0, Encoded: true,
	},
	SeaSurfaceTemperature: {
		Name: "sea_surface_temperature", Short: "TMP", Raw: "TMP_surface",
		LevelType: Surface, Scale: 1,
		Physical: "sea_surface_temperature", Units: "K",
		Discipline: 0, Category: 0, Number: 0,
	},
	UWind10m: {
		Name: "10m_u_component_of_wind", Short: "UGRD", Raw: "UGRD_10maboveground",
		LevelType: HeightAboveGround, Height: 10, Scale: 1,
		Physical: "x_wind", Units: "m s**-1",
		Discipline: 0, Category: 2, Number: 2, Encoded: true,
	},
	VWind10m: {
		Name: "10m_v_component_of_wind", Short: "VGRD", Raw: "VGRD_10maboveground",
		LevelType: HeightAboveGround, Height: 10, Scale: 1,
		Physical: "y_wind", Units: "m s**-1",
		Discipline: 0, Category: 2, Number: 3, Encoded: true,
	},
	TotalPrecipitation6hr: {
		Name: "total_precipitation_6hr", Short: "APCP", Raw: "APCP_surface",
		LevelType: Surface, Accumulated: true, Scale: 1.0 / WaterDensity,
		Physical: "precipitation_amount", Units: "kg m**-2",
		Discipline: 0, Category: 1, Number: 8, Encoded: true,
	},
	TotalPrecipitation12hr: {
		Name: "total_precipitation_12hr", Short: "APCP", Raw: "APCP_surface",
		LevelType: Surface, Accumulated: true, Scale: 1.0 / WaterDensity,
		Physical: "precipitation_amount", Units: "kg m**-2",
		Discipline: 0, Category: 1, Number: 8, Encoded: true,
	},
	TotalPrecipitation: {
		Name: "total_precipitation", Short: "APCP", Raw: "APCP_surface",
		LevelType: Surface, Accumulated: true, Scale: 1.0 / WaterDensity,
		Physical: "precipitation_amount", Units: "kg m**-2",
		Discipline: 0, Category: 1, Number: 8, Encoded: true,
	},
	Geopotential: {
		Name: "geopotential", Short: "HGT", Raw: "HGT",
		LevelType: Isobaric, Scale: StandardGravity,
		Physical: "geopotential_height", Units: "m",
		Discipline: 0, Category: 3, Number: 5, Encoded: true,
	},
	Temperature: {
		Name: "temperature", Short: "TMP", Raw: "TMP",
		LevelType: Isobaric, Scale: 1,
		Physical: "air_temperature", Units: "K",
		Discipline: 0, Category: 0, Number: 0, Encoded: true,
	},
	SpecificHumidity: {
		Name: "specific_humidity", Short: "SPFH", Raw: "SPFH",
		LevelType: Isobaric, Scale: 1,
		Physical: "specific_humidity", Units: "kg kg**-1",
		Discipline: 0, Category: 1, Number: 0, Encoded: true,
	},
	VerticalVelocity: {
		Name: "vertical_velocity", Short: "VVEL", Raw: "VVEL",
		LevelType: Isobaric, Scale: 1,
		Physical: "lagrangian_tendency_of_air_pressure", Units: "Pa s**-1",
		Discipline: 0, Category: 2, Number: 8, Encoded: true,
	},
	UWind: {
		Name: "u_component_of_wind", Short: "UGRD", Raw: "UGRD",
		LevelType: Isobaric, Scale: 1,
		Physical: "x_wind", Units: "m s**-1",
		Discipline: 0, Category: 2, Number: 2, Encoded: true,
	},
	VWind: {
		Name: "v_component_of_wind", Short: "VGRD", Raw: "VGRD",
		LevelType: Isobaric, Scale: 1,
		Physical: "y_wind", Units: "m s**-1",
		Discipline: 0, Category: 2, Number: 3, Encoded: true,
	},
}

// Info returns the static data for v.
func (v Variable) Info() Info {
	if v < 0 || v >= numVariables {
		panic(fmt.Sprintf("catalog: invalid variable %d", int(v)))
	}
	return infos[v]
}

func (v Variable) String() string {
	if v < 0 || v >= numVariables {
		return fmt.Sprintf("Variable(%d)", int(v))
	}
	return infos[v].Name
}

// All returns every canonical variable in table order.
func All() []Variable {
	out := make([]Variable, numVariables)
	for i := range out {
		out[i] = Variable(i)
	}
	return out
}

// Lookup returns the variable with the given canonical name.
func Lookup(name string) (Variable, bool) {
	for i, info := range infos {
		if info.Name == name {
			return Variable(i), true
		}
	}
	return 0, false
}

// RawName returns the name wgrib2 gives a field in its netCDF output: the
// short name alone for isobaric fields, otherwise the short name joined with
// the level description stripped of spaces.
func RawName(short, levelDesc string, leveled bool) string {
	if leveled {
		return short
	}
	return short + "_" + strings.ReplaceAll(levelDesc, " ", "")
}
