package main

import (
	"context"
	"fmt"
	"time"

	"github.com/NOAA-EMC/MLGEFS/config"
	"github.com/NOAA-EMC/MLGEFS/gribio"
	"github.com/NOAA-EMC/MLGEFS/metrics"
	"github.com/NOAA-EMC/MLGEFS/pipeline"
	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const cycleLayout = "2006010215"

var cycleFlag string

var prepCmd = &cobra.Command{
	Use:   "prep",
	Short: "Build the canonical input dataset of a cycle.",
	Long: `prep extracts the archives of the cycles before --cycle from --root and
writes the two-step input dataset into --work. The archives are removed
afterwards unless --keep is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			cycle, err := resolveCycle(p)
			if err != nil {
				return err
			}
			path, err := p.Prepare(ctx, cycle)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		})
	},
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Run the model on a prepared cycle and encode the forecast.",
	Long: `forecast extends the input dataset of --cycle to the forecast length, runs
--model-command on it and writes the predicted steps as GRIB2 files into
--output, uploading them to --bucket when set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			cycle, err := resolveCycle(p)
			if err != nil {
				return err
			}
			res, err := p.Forecast(ctx, cycle)
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		})
	},
}

var encodeCmd = &cobra.Command{
	Use:   "encode FORECAST.nc",
	Short: "Encode an existing forecast dataset as GRIB2.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			cycle, err := resolveCycle(p)
			if err != nil {
				return err
			}
			res, err := p.Encode(ctx, cycle, args[0])
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch DIR",
	Short: "Convert reforecast archives into training batch files.",
	Long: `batch converts every gec{NN}.t{HH}z.pgrb2.{YYYYMMDD}.{res}.f000 archive in DIR
into {YYYYMMDD}{HH}.{res}.{L}lvl.nc in --output. It requires
--family reforecast.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			paths, err := p.Batch(ctx, args[0], p.Config.Output)
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		})
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory FILE",
	Short: "Print the short inventory of a GRIB2 file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := gribio.ReadFile(args[0])
		if err != nil {
			return errors.Wrapf(err, "error parsing grib file %s", args[0])
		}
		inv, err := selector.NativeInventory(args[0], recs)
		if err != nil {
			return err
		}
		_, err = inv.WriteTo(cmd.OutOrStdout())
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{prepCmd, forecastCmd, encodeCmd} {
		c.Flags().StringVar(&cycleFlag, "cycle", "", "forecast start as YYYYMMDDHH; empty means the latest cycle under --root")
	}
}

func resolveCycle(p *pipeline.Pipeline) (time.Time, error) {
	if cycleFlag == "" {
		c, err := pipeline.LatestCycle(p.Config.Root, p.Clock.Now())
		if err != nil {
			return time.Time{}, err
		}
		glog.Infof("using latest cycle %s", c.Format(cycleLayout))
		return c, nil
	}
	c, err := time.ParseInLocation(cycleLayout, cycleFlag, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "error parsing cycle %q", cycleFlag)
	}
	return c, nil
}

// withPipeline loads the configuration, builds the pipeline and writes the
// run metrics once fn returns.
func withPipeline(ctx context.Context, fn func(context.Context, *pipeline.Pipeline) error) error {
	c, err := config.Load(cfg)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p, err := pipeline.New(ctx, c, m)
	if err != nil {
		return err
	}
	defer p.Close()

	err = fn(ctx, p)
	if errors.Is(err, pipeline.ErrCompleted) {
		glog.Infof("nothing to do: %v (use --force to rerun)", err)
		err = nil
	}
	if c.Metrics != "" {
		if merr := metrics.WriteTextfile(c.Metrics, reg); merr != nil {
			glog.Warningf("failed to write metrics to %s: %v", c.Metrics, merr)
		}
	}
	return err
}
