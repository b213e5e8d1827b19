package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gravfit/internal/config"
	"github.com/fyrsmithlabs/gravfit/internal/fit"
	"github.com/fyrsmithlabs/gravfit/internal/http"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
)

// fitFlags holds command-line overrides of the fit configuration.
type fitFlags struct {
	data    []string
	out     string
	monitor string

	mode         string
	walkers      int
	steps        int
	threads      int
	seed         uint64
	polarization int
	oversample   int
	noFit        bool
	bestChi2     bool
	prefit       bool
	oneBHAlpha   bool
	oneBG        bool
}

func newFitCmd() *cobra.Command {
	f := &fitFlags{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit companions to an observation",
		Long: `Fit the configured point-source model to every polarization and DIT of
an observation and write the summary as JSON.

Given more than one observation, all units of all files are fitted jointly:
source positions and flux ratios are shared while every unit keeps its own
nuisance parameters.

Examples:
  # Fit with the config file settings
  gravfit fit --data obs.json --out result.json

  # Quick look: evaluate the initial guess only
  gravfit fit --data obs.json --no-fit

  # Joint fit of a night with one background for all files
  gravfit fit --data a.json --data b.json --one-bg

  # Serve progress on http://localhost:9464/api/v1/fits while fitting
  gravfit fit --data obs.json --monitor localhost:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFit(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringArrayVar(&f.data, "data", nil, "observation file (JSON); repeat for a joint fit")
	fl.StringVar(&f.out, "out", "", "result file (default: stdout)")
	fl.StringVar(&f.monitor, "monitor", "", "serve fit progress on host:port")
	fl.StringVar(&f.mode, "mode", "", "integration mode: approx, analytic, numeric or monochromatic")
	fl.IntVar(&f.walkers, "walkers", 0, "number of walkers (even)")
	fl.IntVar(&f.steps, "steps", 0, "number of sampler steps")
	fl.IntVar(&f.threads, "threads", 0, "concurrent likelihood evaluations (0: GOMAXPROCS)")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed")
	fl.IntVar(&f.polarization, "polarization", fit.AllPolarizations, "fit only this polarization (-1: all)")
	fl.IntVar(&f.oversample, "oversample", 0, "evaluate the reported model on this many wavelengths")
	fl.BoolVar(&f.noFit, "no-fit", false, "evaluate the initial vector without sampling")
	fl.BoolVar(&f.bestChi2, "best-chi2", false, "report the best sample instead of the median")
	fl.BoolVar(&f.prefit, "prefit", false, "run a Nelder-Mead pre-fit before sampling")
	fl.BoolVar(&f.oneBHAlpha, "one-bh-alpha", false, "joint fit: one central-source index for all files")
	fl.BoolVar(&f.oneBG, "one-bg", true, "joint fit: one background flux for all files")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// apply copies the flags the user set onto the fit section.
func (f *fitFlags) apply(cmd *cobra.Command, c *config.FitConfig) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		c.Mode = f.mode
	}
	if changed("walkers") {
		c.Walkers = f.walkers
	}
	if changed("steps") {
		c.Steps = f.steps
	}
	if changed("threads") {
		c.Threads = f.threads
	}
	if changed("seed") {
		c.Seed = f.seed
	}
	if changed("polarization") {
		c.Polarization = f.polarization
	}
	if changed("oversample") {
		c.Oversample = f.oversample
	}
	if changed("no-fit") {
		c.NoFit = f.noFit
	}
	if changed("best-chi2") {
		c.BestChi2 = f.bestChi2
	}
	if changed("prefit") {
		c.Prefit = f.prefit
	}
	if changed("one-bh-alpha") {
		c.OneBHAlpha = f.oneBHAlpha
	}
	if changed("one-bg") {
		c.OneBG = f.oneBG
	}
}

func runFit(cmd *cobra.Command, f *fitFlags) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	f.apply(cmd, &a.cfg.Fit)
	opts, err := a.cfg.Fit.Options()
	if err != nil {
		return fmt.Errorf("invalid fit options: %w", err)
	}
	if f.monitor != "" {
		host, port, err := parseAddr(f.monitor)
		if err != nil {
			return err
		}
		a.cfg.Monitor.Enabled = true
		a.cfg.Monitor.Host, a.cfg.Monitor.Port = host, port
	}

	bundles := make([]*observation.Bundle, len(f.data))
	for i, path := range f.data {
		if bundles[i], err = observation.ReadFile(path); err != nil {
			return err
		}
	}
	b := bundles[0]

	driverOpts := []fit.Option{fit.WithLogger(a.logger.Named("fit"))}
	metrics, err := fit.NewMetrics(a.tel.Meter(fit.InstrumentationName))
	if err != nil {
		return fmt.Errorf("failed to create fit metrics: %w", err)
	}
	driverOpts = append(driverOpts,
		fit.WithMetrics(metrics),
		fit.WithTracer(a.tel.Tracer(fit.InstrumentationName)),
	)

	if a.cfg.PhaseMaps.Enabled {
		pm, err := loadPhaseMap(a.cfg.PhaseMaps, b)
		if err != nil {
			return err
		}
		driverOpts = append(driverOpts, fit.WithPhaseMap(pm))
	}

	if a.cfg.Monitor.Enabled {
		tracker := http.NewTracker()
		stopMonitor, err := startMonitor(ctx, a, tracker)
		if err != nil {
			return err
		}
		defer stopMonitor()
		driverOpts = append(driverOpts, fit.WithObserver(tracker))
	}

	driver, err := fit.NewDriver(opts, driverOpts...)
	if err != nil {
		return err
	}
	if len(bundles) > 1 {
		report, err := driver.RunJoint(ctx, bundles)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), f.out, report)
	}
	report, err := driver.Run(ctx, b)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), f.out, report)
}

// loadPhaseMap reads the maps matching the observation's telescope class,
// resolution and year.
func loadPhaseMap(c config.PhaseMapConfig, b *observation.Bundle) (*fit.PhaseMap, error) {
	tel, err := interferometer.ParseTelescope(b.Telescope)
	if err != nil {
		return nil, err
	}
	src := c.Source(tel, b.Resolution)
	if src.Year == 0 {
		src.Year = dataYear(b.MJD)
	}
	grid, err := phasemap.Load(src)
	if err != nil {
		return nil, err
	}
	return &fit.PhaseMap{
		Grid:        grid,
		PixelOffset: c.PixelOffset,
		Interpolate: c.Interpolate,
		Simulated:   c.Simulated,
		Fit:         c.Fit,
	}, nil
}

// mjdEpoch is modified Julian date zero.
var mjdEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// dataYear returns the calendar year of a modified Julian date, or 0 when
// the date is unset.
func dataYear(mjd float64) int {
	if !(mjd > 0) {
		return 0
	}
	return mjdEpoch.Add(time.Duration(mjd * float64(24*time.Hour))).Year()
}

// startMonitor serves the progress monitor in the background and returns
// a function that shuts it down.
func startMonitor(ctx context.Context, a *app, tracker *http.Tracker) (func(), error) {
	logger := a.logger.Named("monitor")
	srv, err := http.NewServer(tracker, logger,
		&http.Config{
			Host:      a.cfg.Monitor.Host,
			Port:      a.cfg.Monitor.Port,
			RateLimit: a.cfg.Monitor.RateLimit,
			RateBurst: a.cfg.Monitor.RateBurst,
		},
		http.WithTelemetry(a.tel),
		http.WithVersion(version),
		http.WithHTTPMetrics(http.NewHTTPMetrics(a.tel.Meter("github.com/fyrsmithlabs/gravfit/internal/http"), logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error(ctx, "monitor stopped", zap.Error(err))
		}
	}()

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Monitor.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn(sctx, "monitor shutdown failed", zap.Error(err))
		}
	}, nil
}

// parseAddr splits host:port. An empty host means localhost.
func parseAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid monitor address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid monitor port in %q", addr)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}
