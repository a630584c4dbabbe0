// Package config builds the immutable run configuration from flags,
// MLGEFS_ environment variables and an optional TOML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "MLGEFS"

// Extraction methods.
const (
	MethodWgrib2 = "wgrib2"
	MethodNative = "native"
)

// Config is a validated run configuration. It is passed by value.
type Config struct {
	// Root holds the raw archives as Root/{YYYYMMDD}/{HH}/.
	Root string
	// Work receives extraction outputs and the canonical input file.
	Work string
	// Output receives forecasts and GRIB2 files.
	Output string

	Family catalog.Family
	Model  catalog.Model
	Levels int
	Member string

	// ForecastLength is the number of model steps.
	ForecastLength int
	Method         string
	Wgrib2         string
	// Keep retains raw archives and local outputs after success.
	Keep bool

	// Bucket is a blob URL (file://, s3://). Empty disables upload.
	Bucket string
	// Region writes the north_america subsets of the GRIB2 outputs.
	Region bool
	// ModelCommand runs the forecaster. It receives the input, target
	// template and output paths as -i, -t and -o.
	ModelCommand []string
	// Ledger is the sqlite run ledger. Empty disables it.
	Ledger string
	// Force reruns cycles the ledger records as complete.
	Force bool
	// Metrics is a node exporter textfile. Empty disables it.
	Metrics string
	// UploadTimeout bounds the retries of a single upload.
	UploadTimeout time.Duration
}

type option struct {
	name, usage string
	value       interface{}
}

var options = []option{
	{"config", "TOML configuration file", ""},
	{"root", "directory of raw archives laid out as {YYYYMMDD}/{HH}", "."},
	{"work", "directory for extracted and canonical input files", "."},
	{"output", "directory for forecasts and GRIB2 outputs", "."},
	{"family", "source family: gdas, gefs or reforecast", string(catalog.GDAS)},
	{"model", "forecast model: graphcast or gencast", string(catalog.GraphCast)},
	{"levels", "number of pressure levels: 13, 31 or 37", 13},
	{"member", "GEFS ensemble member (c00, p01, ...)", ""},
	{"length", "forecast length in model steps", 40},
	{"method", "extraction method: wgrib2 or native", MethodWgrib2},
	{"wgrib2", "wgrib2 executable", "wgrib2"},
	{"keep", "keep raw archives and local outputs", false},
	{"bucket", "blob URL receiving inputs and forecasts", ""},
	{"region", "also write north_america GRIB2 subsets", false},
	{"model-command", "forecaster command and arguments", []string{}},
	{"ledger", "sqlite run ledger", ""},
	{"force", "rerun cycles recorded as complete", false},
	{"metrics", "node exporter textfile for run metrics", ""},
	{"upload-timeout", "maximum retry time of one upload", 5 * time.Minute},
}

// RegisterFlags defines the configuration flags on fs and binds them to v.
// Defaults are installed on v as well so Load works without flags.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) {
	for _, o := range options {
		switch d := o.value.(type) {
		case string:
			fs.String(o.name, d, o.usage)
		case int:
			fs.Int(o.name, d, o.usage)
		case bool:
			fs.Bool(o.name, d, o.usage)
		case []string:
			fs.StringSlice(o.name, d, o.usage)
		case time.Duration:
			fs.Duration(o.name, d, o.usage)
		default:
			panic(fmt.Sprintf("config: unsupported default %T for %s", d, o.name))
		}
		v.BindPFlag(o.name, fs.Lookup(o.name))
	}
	SetDefaults(v)
}

// SetDefaults installs the defaults and environment binding on v.
func SetDefaults(v *viper.Viper) {
	for _, o := range options {
		v.SetDefault(o.name, o.value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration file named by the "config" key, if any, and
// returns the validated configuration.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "error reading configuration file %s", path)
		}
	}
	c := Config{
		Root:           v.GetString("root"),
		Work:           v.GetString("work"),
		Output:         v.GetString("output"),
		Family:         catalog.Family(strings.ToLower(v.GetString("family"))),
		Model:          catalog.Model(strings.ToLower(v.GetString("model"))),
		Levels:         v.GetInt("levels"),
		Member:         v.GetString("member"),
		ForecastLength: v.GetInt("length"),
		Method:         strings.ToLower(v.GetString("method")),
		Wgrib2:         v.GetString("wgrib2"),
		Keep:           v.GetBool("keep"),
		Bucket:         v.GetString("bucket"),
		Region:         v.GetBool("region"),
		ModelCommand:   v.GetStringSlice("model-command"),
		Ledger:         v.GetString("ledger"),
		Force:          v.GetBool("force"),
		Metrics:        v.GetString("metrics"),
		UploadTimeout:  v.GetDuration("upload-timeout"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.ForecastLength < 1 {
		return fmt.Errorf("forecast length must be positive, got %d", c.ForecastLength)
	}
	switch c.Method {
	case MethodWgrib2, MethodNative:
	default:
		return fmt.Errorf("unknown extraction method %q", c.Method)
	}
	if c.Root == "" || c.Work == "" || c.Output == "" {
		return errors.New("root, work and output directories are required")
	}
	if c.Bucket != "" && !strings.Contains(c.Bucket, "://") {
		return fmt.Errorf("bucket %q is not a URL", c.Bucket)
	}
	if c.UploadTimeout < 0 {
		return fmt.Errorf("negative upload timeout %v", c.UploadTimeout)
	}
	return nil
}

// Profile returns the product profile of the configuration.
func (c Config) Profile() (catalog.Profile, error) {
	return catalog.NewProfile(c.Family, c.Model, c.Levels, c.Member)
}
