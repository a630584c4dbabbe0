// Command mlgefs prepares model inputs from GDAS and GEFS archives, runs the
// forecaster and writes its output as GRIB2.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/NOAA-EMC/MLGEFS/config"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfg = viper.New()

var rootCmd = &cobra.Command{
	Use:   "mlgefs",
	Short: "Prepare inputs for and encode outputs of machine learning weather models.",
	Long: `mlgefs turns GDAS and GEFS GRIB2 archives into the canonical netCDF inputs
of GraphCast and GenCast, runs the model and writes its forecasts as GRIB2.

Configuration is read from flags, from MLGEFS_* environment variables
(MLGEFS_LEVELS, MLGEFS_MODEL_COMMAND, ...) and from the TOML file named by
--config, in that order of precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	config.RegisterFlags(rootCmd.PersistentFlags(), cfg)
	rootCmd.AddCommand(prepCmd, forecastCmd, encodeCmd, batchCmd, inventoryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		glog.Exitf("got fatal error: %v", err)
	}
}

func run(ctx context.Context) error {
	defer glog.Flush()
	return rootCmd.ExecuteContext(ctx)
}
