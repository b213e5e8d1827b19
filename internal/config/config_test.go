package config

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.Fit.Options()
	require.NoError(t, err)
	assert.Equal(t, spectral.Approx, opts.Mode)
	assert.Equal(t, likelihood.DefaultWeights(), opts.Weights)
	assert.True(t, opts.Prepare.IsZero())
	require.Len(t, opts.Sources, 1)
	assert.Equal(t, 0.1, opts.Sources[0].FluxRatio)
	assert.Equal(t, 300, opts.Walkers)
	assert.Equal(t, -1, opts.Polarization)
	assert.False(t, opts.Share.OneBHAlpha)
	assert.True(t, opts.Share.OneBG)

	assert.False(t, cfg.PhaseMaps.Fit)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Monitor.ShutdownTimeout.Duration())
	assert.Equal(t, 20.0, cfg.Monitor.RateLimit)
	assert.Equal(t, 40, cfg.Monitor.RateBurst)
}

func TestFitConfig_Options(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FitConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*FitConfig) {}},
		{name: "analytic mode", mutate: func(f *FitConfig) { f.Mode = "Analytic" }},
		{name: "unknown mode", mutate: func(f *FitConfig) { f.Mode = "fast" }, wantErr: true},
		{name: "unknown observable", mutate: func(f *FitConfig) { f.Weights["phase"] = 1 }, wantErr: true},
		{name: "negative weight", mutate: func(f *FitConfig) { f.Weights["vis2"] = -1 }, wantErr: true},
		{name: "no sources", mutate: func(f *FitConfig) { f.Sources = nil }, wantErr: true},
		{name: "odd walkers", mutate: func(f *FitConfig) { f.Walkers = 31 }, wantErr: true},
		{name: "odd walkers without sampling", mutate: func(f *FitConfig) { f.Walkers = 31; f.NoFit = true }},
		{name: "star alpha NaN", mutate: func(f *FitConfig) { f.StarAlpha = math.NaN() }, wantErr: true},
		{name: "oversample one", mutate: func(f *FitConfig) { f.Oversample = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.Fit)
			_, err := cfg.Fit.Options()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFitConfig_OptionsMapping(t *testing.T) {
	f := Default().Fit
	f.Weights = map[string]float64{"VIS2": 2, "t3phi": 1, "t3amp": 0.25}
	f.Sources = []SourceConfig{{RA: 5, DEC: -3, FluxRatio: 0.2}, {RA: -10, DEC: 1, FluxRatio: 0.05}}
	f.FitPos = []bool{true, false}
	f.FitPhaseCenter = true
	f.Initial = map[string]float64{"pc RA": 0.5}
	f.FlagTill, f.FlagFrom = 1, 10
	f.OneBHAlpha = true

	opts, err := f.Options()
	require.NoError(t, err)

	assert.Equal(t, 2.0, opts.Weights[observation.Vis2])
	assert.Equal(t, 0.25, opts.Weights[observation.ClosureAmp])
	assert.Zero(t, opts.Weights[observation.VisAmp])
	require.Len(t, opts.Sources, 2)
	assert.Equal(t, -10.0, opts.Sources[1].RA)
	assert.Equal(t, []bool{true, false}, opts.Flags.FitPos)
	assert.True(t, opts.Flags.FitPhaseCenter)
	assert.Equal(t, 0.5, opts.Flags.Initial["pc RA"])
	assert.Equal(t, observation.PrepareOptions{FlagTill: 1, FlagFrom: 10}, opts.Prepare)
	assert.True(t, opts.Share.OneBHAlpha)
	assert.True(t, opts.Share.OneBG)
}

func TestPhaseMapConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PhaseMapConfig
		wantErr bool
	}{
		{name: "disabled ignores fields", cfg: PhaseMapConfig{Smoothing: -1}},
		{name: "enabled", cfg: PhaseMapConfig{Enabled: true, Dir: "/maps", Smoothing: 15}},
		{name: "missing dir", cfg: PhaseMapConfig{Enabled: true}, wantErr: true},
		{name: "negative smoothing", cfg: PhaseMapConfig{Enabled: true, Dir: "/maps", Smoothing: -1}, wantErr: true},
		{name: "infinite offset", cfg: PhaseMapConfig{Enabled: true, Dir: "/maps", PixelOffset: [2]float64{math.Inf(1), 0}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPhaseMapConfig_Source(t *testing.T) {
	p := PhaseMapConfig{Dir: "/maps", Smoothing: 15, Year: 2020}
	coupling, denom := p.Source(interferometer.UT, "low").Paths()
	assert.Equal(t, filepath.Join("/maps", "Phasemap_UT_LOW_Smooth15_2020data.npy"), coupling)
	assert.Equal(t, filepath.Join("/maps", "Phasemap_UT_LOW_Smooth15_2020data_denom.npy"), denom)
}

func TestMonitorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MonitorConfig
		wantErr bool
	}{
		{name: "disabled", cfg: MonitorConfig{}},
		{name: "valid", cfg: MonitorConfig{Enabled: true, Port: 9464, ShutdownTimeout: Duration(time.Second)}},
		{name: "port zero", cfg: MonitorConfig{Enabled: true, ShutdownTimeout: Duration(time.Second)}, wantErr: true},
		{name: "port too large", cfg: MonitorConfig{Enabled: true, Port: 70000, ShutdownTimeout: Duration(time.Second)}, wantErr: true},
		{name: "no timeout", cfg: MonitorConfig{Enabled: true, Port: 9464}, wantErr: true},
		{name: "unlimited", cfg: MonitorConfig{Enabled: true, Port: 9464, ShutdownTimeout: Duration(time.Second)}},
		{name: "rate limited", cfg: MonitorConfig{Enabled: true, Port: 9464, ShutdownTimeout: Duration(time.Second), RateLimit: 5, RateBurst: 10}},
		{name: "negative rate", cfg: MonitorConfig{Enabled: true, Port: 9464, ShutdownTimeout: Duration(time.Second), RateLimit: -1}, wantErr: true},
		{name: "no burst", cfg: MonitorConfig{Enabled: true, Port: 9464, ShutdownTimeout: Duration(time.Second), RateLimit: 5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_ValidateSections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "fit", mutate: func(c *Config) { c.Fit.Mode = "" }, wantErr: "fit:"},
		{name: "phasemaps", mutate: func(c *Config) { c.PhaseMaps = PhaseMapConfig{Enabled: true} }, wantErr: "phasemaps:"},
		{name: "logging missing", mutate: func(c *Config) { c.Logging = nil }, wantErr: "logging:"},
		{name: "logging format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging:"},
		{name: "telemetry", mutate: func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, wantErr: "telemetry:"},
		{name: "monitor", mutate: func(c *Config) { c.Monitor.Enabled = true; c.Monitor.Port = 0 }, wantErr: "monitor:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
