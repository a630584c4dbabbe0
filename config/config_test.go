package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NOAA-EMC/MLGEFS/catalog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, v)
	require.NoError(t, fs.Parse(args))
	return Load(v)
}

func TestDefaults(t *testing.T) {
	c, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, catalog.GDAS, c.Family)
	assert.Equal(t, catalog.GraphCast, c.Model)
	assert.Equal(t, 13, c.Levels)
	assert.Equal(t, 40, c.ForecastLength)
	assert.Equal(t, MethodWgrib2, c.Method)
	assert.False(t, c.Keep)
	assert.Empty(t, c.Bucket)
	assert.Equal(t, 5*time.Minute, c.UploadTimeout)
}

func TestFlagsAndEnvironment(t *testing.T) {
	t.Setenv("MLGEFS_LEVELS", "37")
	t.Setenv("MLGEFS_MODEL_COMMAND", "python run.py")
	c, err := load(t, "--family", "gefs", "--member", "p01", "--keep", "--length", "16")
	require.NoError(t, err)
	assert.Equal(t, catalog.GEFS, c.Family)
	assert.Equal(t, "p01", c.Member)
	assert.Equal(t, 37, c.Levels)
	assert.Equal(t, 16, c.ForecastLength)
	assert.True(t, c.Keep)
	assert.Equal(t, []string{"python", "run.py"}, c.ModelCommand)

	p, err := c.Profile()
	require.NoError(t, err)
	assert.Equal(t, "gep01", p.FilePrefix())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlgefs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
model = "gencast"
levels = 13
bucket = "s3://noaa-nws-graphcastgfs-pds"
model-command = ["python3", "run_gencast.py"]
`), 0o644))
	c, err := load(t, "--config", path, "--levels", "13")
	require.NoError(t, err)
	assert.Equal(t, catalog.GenCast, c.Model)
	assert.Equal(t, "s3://noaa-nws-graphcastgfs-pds", c.Bucket)
	assert.Equal(t, []string{"python3", "run_gencast.py"}, c.ModelCommand)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown family", []string{"--family", "era5"}},
		{"gefs without member", []string{"--family", "gefs"}},
		{"unsupported levels", []string{"--levels", "25"}},
		{"zero length", []string{"--length", "0"}},
		{"unknown method", []string{"--method", "pygrib"}},
		{"bucket without scheme", []string{"--bucket", "my-bucket"}},
		{"empty root", []string{"--root", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
