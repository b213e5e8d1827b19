// Package config provides configuration loading for gravfit.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then GRAVFIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/gravfit/internal/fit"
	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/logging"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
	"github.com/fyrsmithlabs/gravfit/internal/telemetry"
)

// Config holds the complete gravfit configuration.
type Config struct {
	Fit       FitConfig         `koanf:"fit"`
	PhaseMaps PhaseMapConfig    `koanf:"phasemaps"`
	Logging   *logging.Config   `koanf:"logging"`
	Telemetry *telemetry.Config `koanf:"telemetry"`
	Monitor   MonitorConfig     `koanf:"monitor"`
}

// SourceConfig is the initial guess for one companion.
type SourceConfig struct {
	RA        float64 `koanf:"ra"`
	DEC       float64 `koanf:"dec"`
	FluxRatio float64 `koanf:"flux_ratio"`
}

// FitConfig holds sampler and model settings.
type FitConfig struct {
	Mode    string             `koanf:"mode"`
	Weights map[string]float64 `koanf:"weights"`
	Sources []SourceConfig     `koanf:"sources"`

	Walkers int     `koanf:"walkers"`
	Steps   int     `koanf:"steps"`
	Threads int     `koanf:"threads"`
	Seed    uint64  `koanf:"seed"`
	Jitter  float64 `koanf:"jitter"`

	// FlagTill and FlagFrom bound the channel window. Leaving both at 0
	// takes the resolution default.
	FlagTill         int `koanf:"flag_till"`
	FlagFrom         int `koanf:"flag_from"`
	MinValidChannels int `koanf:"min_valid_channels"`
	Polarization     int `koanf:"polarization"`

	FitPos           []bool             `koanf:"fit_pos"`
	FitFr            []bool             `koanf:"fit_fr"`
	FitSize          float64            `koanf:"fit_size"`
	FixedBHAlpha     bool               `koanf:"fixed_bh_alpha"`
	FitBGAlpha       bool               `koanf:"fit_bg_alpha"`
	FitPhaseCenter   bool               `koanf:"fit_phase_center"`
	FitBHFlux        bool               `koanf:"fit_bh_flux"`
	FitCoherenceLoss bool               `koanf:"fit_coherence_loss"`
	FitOPDs          bool               `koanf:"fit_opds"`
	Initial          map[string]float64 `koanf:"initial"`
	StarAlpha        float64            `koanf:"star_alpha"`

	// OneBHAlpha and OneBG pool the central-source index and the background
	// flux across the files of a joint fit.
	OneBHAlpha bool `koanf:"one_bh_alpha"`
	OneBG      bool `koanf:"one_bg"`

	NoFit            bool `koanf:"no_fit"`
	Prefit           bool `koanf:"prefit"`
	PrefitIterations int  `koanf:"prefit_iterations"`
	BestChi2         bool `koanf:"best_chi2"`
	Oversample       int  `koanf:"oversample"`
}

// PhaseMapConfig locates the phase-map files. Telescope class and
// resolution come from the observation bundle.
type PhaseMapConfig struct {
	Enabled     bool       `koanf:"enabled"`
	Dir         string     `koanf:"dir"`
	Smoothing   int        `koanf:"smoothing"`
	Year        int        `koanf:"year"`
	Interpolate bool       `koanf:"interpolate"`
	PixelOffset [2]float64 `koanf:"pixel_offset"`
	Simulated   bool       `koanf:"simulated"`
	// Fit looks the couplings up at every evaluation instead of once at
	// the initial source positions.
	Fit bool `koanf:"fit"`
}

// MonitorConfig holds the progress monitor HTTP server settings.
type MonitorConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client;
	// zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// Default returns the built-in configuration: one companion at the origin
// fitted in approx mode on LOW resolution data.
func Default() *Config {
	opts := fit.DefaultOptions()
	weights := make(map[string]float64, observation.NumKinds)
	for k := range observation.NumKinds {
		weights[k.String()] = opts.Weights[k]
	}
	return &Config{
		Fit: FitConfig{
			Mode:             opts.Mode.String(),
			Weights:          weights,
			Sources:          []SourceConfig{{FluxRatio: 0.1}},
			Walkers:          opts.Walkers,
			Steps:            opts.Steps,
			Seed:             1,
			Jitter:           opts.Jitter,
			FlagTill:         opts.Prepare.FlagTill,
			FlagFrom:         opts.Prepare.FlagFrom,
			MinValidChannels: opts.MinValidChannels,
			Polarization:     opts.Polarization,
			FitSize:          model.DefaultFitSize,
			StarAlpha:        opts.StarAlpha,
			PrefitIterations: opts.PrefitIterations,
			OneBHAlpha:       opts.Share.OneBHAlpha,
			OneBG:            opts.Share.OneBG,
		},
		PhaseMaps: PhaseMapConfig{
			Dir:         ".",
			Smoothing:   15,
			Interpolate: true,
		},
		Logging:   logging.NewDefaultConfig(),
		Telemetry: telemetry.NewDefaultConfig(),
		Monitor: MonitorConfig{
			Host:            "localhost",
			Port:            9464,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       20,
			RateBurst:       40,
		},
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	if _, err := c.Fit.Options(); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	if err := c.PhaseMaps.Validate(); err != nil {
		return fmt.Errorf("phasemaps: %w", err)
	}
	if c.Logging == nil {
		return errors.New("logging: section missing")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Telemetry == nil {
		return errors.New("telemetry: section missing")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Options converts the section into validated fit options.
func (f FitConfig) Options() (fit.Options, error) {
	const op = "config.Fit"
	mode, err := spectral.ParseMode(f.Mode)
	if err != nil {
		return fit.Options{}, err
	}
	weights, err := parseWeights(f.Weights)
	if err != nil {
		return fit.Options{}, err
	}
	sources := make([]model.Source, len(f.Sources))
	for i, s := range f.Sources {
		sources[i] = model.Source{RA: s.RA, DEC: s.DEC, FluxRatio: s.FluxRatio}
	}
	if math.IsNaN(f.StarAlpha) || math.IsInf(f.StarAlpha, 0) {
		return fit.Options{}, fiterr.Invalid(op, "star_alpha is %g", f.StarAlpha)
	}

	opts := fit.Options{
		Mode:    mode,
		Weights: weights,
		Sources: sources,
		Flags: model.FitFlags{
			FitPos:           f.FitPos,
			FitFr:            f.FitFr,
			FitSize:          f.FitSize,
			FixedBHAlpha:     f.FixedBHAlpha,
			FitBGAlpha:       f.FitBGAlpha,
			FitPhaseCenter:   f.FitPhaseCenter,
			FitBHFlux:        f.FitBHFlux,
			FitCoherenceLoss: f.FitCoherenceLoss,
			FitOPDs:          f.FitOPDs,
			Initial:          f.Initial,
		},
		StarAlpha:        f.StarAlpha,
		Walkers:          f.Walkers,
		Steps:            f.Steps,
		Threads:          f.Threads,
		Seed:             f.Seed,
		Jitter:           f.Jitter,
		Prepare:          observation.PrepareOptions{FlagTill: f.FlagTill, FlagFrom: f.FlagFrom},
		MinValidChannels: f.MinValidChannels,
		Polarization:     f.Polarization,
		NoFit:            f.NoFit,
		Prefit:           f.Prefit,
		PrefitIterations: f.PrefitIterations,
		BestChi2:         f.BestChi2,
		Oversample:       f.Oversample,
		Share:            model.JointFlags{OneBHAlpha: f.OneBHAlpha, OneBG: f.OneBG},
	}
	if err := opts.Validate(); err != nil {
		return fit.Options{}, err
	}
	return opts, nil
}

// parseWeights maps observable names to weights. Observables left out
// weigh zero.
func parseWeights(in map[string]float64) (likelihood.Weights, error) {
	var w likelihood.Weights
	for name, v := range in {
		k, ok := parseKind(name)
		if !ok {
			return w, fiterr.Invalid("config.Fit", "unknown observable %q in weights", name)
		}
		w[k] = v
	}
	return w, nil
}

func parseKind(name string) (observation.Kind, bool) {
	for k := range observation.NumKinds {
		if strings.EqualFold(name, k.String()) {
			return k, true
		}
	}
	return 0, false
}

// Validate checks the phase-map section. A disabled section is always valid.
func (p PhaseMapConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Dir == "" {
		return fiterr.Invalid("config.PhaseMaps", "dir is required when phase maps are enabled")
	}
	if p.Smoothing < 0 {
		return fiterr.Invalid("config.PhaseMaps", "smoothing must not be negative, got %d", p.Smoothing)
	}
	for _, v := range p.PixelOffset {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fiterr.Invalid("config.PhaseMaps", "pixel_offset %v is not finite", p.PixelOffset)
		}
	}
	return nil
}

// Source names the map files for one telescope class and resolution.
func (p PhaseMapConfig) Source(tel interferometer.TelescopeClass, resolution string) phasemap.Source {
	return phasemap.Source{
		Dir:        p.Dir,
		Telescope:  tel,
		Resolution: resolution,
		Smoothing:  p.Smoothing,
		Year:       p.Year,
	}
}

// Validate checks the monitor section. A disabled monitor is always valid.
func (m MonitorConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", m.Port)
	}
	if m.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if m.RateLimit < 0 || math.IsNaN(m.RateLimit) || math.IsInf(m.RateLimit, 0) {
		return fmt.Errorf("invalid rate limit: %v", m.RateLimit)
	}
	if m.RateLimit > 0 && m.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1, got %d", m.RateBurst)
	}
	return nil
}
