package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gravfit/internal/fit"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/params"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
)

// vectorFlags selects and configures a model for an explicit full vector.
type vectorFlags struct {
	theta          []float64
	mode           string
	starAlpha      float64
	fitPhaseCenter bool
}

func (v *vectorFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Float64SliceVar(&v.theta, "theta", nil, "full parameter vector: dRA,dDEC,log10 fr per source, then the 16 nuisance parameters")
	fl.StringVar(&v.mode, "mode", "", "integration mode (default: from config)")
	fl.Float64Var(&v.starAlpha, "star-alpha", math.NaN(), "companion spectral index (default: from config)")
	fl.BoolVar(&v.fitPhaseCenter, "fit-phase-center", false, "apply the phase-center offset to the baseline phases")
	_ = cmd.MarkFlagRequired("theta")
}

// numSources returns the source count implied by a full vector length.
func numSources(theta []float64) (int, error) {
	n := (len(theta) - model.FullLength(0)) / 3
	if n < 1 || model.FullLength(n) != len(theta) {
		return 0, fmt.Errorf("theta has %d entries; want 3 per source plus %d", len(theta), model.FullLength(0))
	}
	return n, nil
}

// vectorOptions configures opts to evaluate theta exactly: every source is
// fixed and every layout value is taken from theta.
func vectorOptions(opts *fit.Options, theta []float64, fitPhaseCenter bool) error {
	n, err := numSources(theta)
	if err != nil {
		return err
	}
	opts.Sources = make([]model.Source, n)
	fixed := make([]bool, n)
	for k := range n {
		opts.Sources[k] = model.Source{RA: theta[3*k], DEC: theta[3*k+1], FluxRatio: math.Pow(10, theta[3*k+2])}
	}
	opts.Flags = model.FitFlags{
		FitPos:         fixed,
		FitFr:          fixed,
		FixedBHAlpha:   true,
		FitPhaseCenter: fitPhaseCenter,
	}
	layout, err := model.BuildLayout(opts.Sources, opts.Flags)
	if err != nil {
		return err
	}
	opts.Flags.Initial = named(layout, theta)
	opts.NoFit = true
	return nil
}

func named(layout *params.Layout, theta []float64) map[string]float64 {
	out := make(map[string]float64, len(theta))
	for i, name := range layout.Names() {
		out[name] = theta[i]
	}
	return out
}

// apply overrides the configured mode and spectral index with set flags.
func (v *vectorFlags) apply(cmd *cobra.Command, mode *spectral.Mode, starAlpha *float64) error {
	if cmd.Flags().Changed("mode") {
		m, err := spectral.ParseMode(v.mode)
		if err != nil {
			return err
		}
		*mode = m
	}
	if cmd.Flags().Changed("star-alpha") {
		*starAlpha = v.starAlpha
	}
	return nil
}

func newModelCmd() *cobra.Command {
	v := &vectorFlags{}
	var (
		data         string
		out          string
		oversample   int
		polarization int
	)
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Evaluate a parameter vector against an observation",
		Long: `Evaluate the model for an explicit full parameter vector on every unit of
an observation and report the chi-square terms and model observables.

Examples:
  # One companion at (5, -3) mas with flux ratio 0.1
  gravfit model --data obs.json --theta 5,-3,-1,-0.5,0.1,3,0,0,1,1,1,1,1,1,1,0,0,0,0

  # Smooth model curve on 200 wavelengths
  gravfit model --data obs.json --theta ... --oversample 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := a.cfg.Fit.Options()
			if err != nil {
				return fmt.Errorf("invalid fit options: %w", err)
			}
			if err := v.apply(cmd, &opts.Mode, &opts.StarAlpha); err != nil {
				return err
			}
			if err := vectorOptions(&opts, v.theta, v.fitPhaseCenter); err != nil {
				return err
			}
			if cmd.Flags().Changed("oversample") {
				opts.Oversample = oversample
			}
			opts.Polarization = polarization

			b, err := observation.ReadFile(data)
			if err != nil {
				return err
			}
			driverOpts := []fit.Option{fit.WithLogger(a.logger.Named("model"))}
			if a.cfg.PhaseMaps.Enabled {
				pm, err := loadPhaseMap(a.cfg.PhaseMaps, b)
				if err != nil {
					return err
				}
				driverOpts = append(driverOpts, fit.WithPhaseMap(pm))
			}
			driver, err := fit.NewDriver(opts, driverOpts...)
			if err != nil {
				return err
			}
			report, err := driver.Run(cmd.Context(), b)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out, report)
		},
	}
	v.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&data, "data", "", "observation file (JSON)")
	fl.StringVar(&out, "out", "", "result file (default: stdout)")
	fl.IntVar(&oversample, "oversample", 0, "evaluate the model on this many wavelengths")
	fl.IntVar(&polarization, "polarization", fit.AllPolarizations, "evaluate only this polarization (-1: all)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
