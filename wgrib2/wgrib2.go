// Package wgrib2 drives the wgrib2 command line tool: inventories, netCDF
// extraction and regional subsets.
package wgrib2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/NOAA-EMC/MLGEFS/selector"
	"github.com/golang/glog"
)

// DefaultCommand is looked up in the system path.
const DefaultCommand = "wgrib2"

// Runner runs wgrib2 with the given arguments.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error
}

// SubprocessError reports a wgrib2 invocation that failed or exited non-zero.
type SubprocessError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s %s exited with status %d", e.Command, strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// Command runs the wgrib2 executable.
type Command struct {
	// Path is the executable; empty means DefaultCommand.
	Path string
}

// Run implements Runner.
func (c Command) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	path := c.Path
	if path == "" {
		path = DefaultCommand
	}
	glog.V(1).Infof("running %s %s", path, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &SubprocessError{Command: path, Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	if stderr.Len() > 0 {
		glog.V(1).Infof("%s stderr: %s", path, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Inventory returns the short inventory of a GRIB2 file.
func Inventory(ctx context.Context, r Runner, path string) (*selector.Inventory, error) {
	var out bytes.Buffer
	if err := r.Run(ctx, nil, &out, "-s", path); err != nil {
		return nil, err
	}
	return selector.ParseInventory(path, &out)
}

// Region is a latitude/longitude box in degrees.
type Region struct {
	LonMin, LonMax float64
	LatMin, LatMax float64
}

// NorthAmerica is the regional subset written next to the global products.
var NorthAmerica = Region{LonMin: 61, LonMax: 299, LatMin: -37, LatMax: 37}

// SmallGrib writes the part of in inside region to out.
func SmallGrib(ctx context.Context, r Runner, in, out string, region Region) error {
	lon := fmt.Sprintf("%g:%g", region.LonMin, region.LonMax)
	lat := fmt.Sprintf("%g:%g", region.LatMin, region.LatMax)
	if err := r.Run(ctx, nil, io.Discard, in, "-small_grib", lon, lat, out); err != nil {
		return err
	}
	glog.Infof("wrote regional subset %s", out)
	return nil
}
