package fit

import (
	"math"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
)

// Default sampler settings.
const (
	DefaultWalkers          = 300
	DefaultSteps            = 300
	DefaultJitter           = 0.1
	DefaultMinValidChannels = 1
	DefaultPrefitIterations = 2000
)

// AllPolarizations selects every polarization of the bundle.
const AllPolarizations = -1

// Options configure one fit run. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	Mode      spectral.Mode
	Weights   likelihood.Weights
	Sources   []model.Source
	Flags     model.FitFlags
	StarAlpha float64

	Walkers int
	Steps   int
	// Threads bounds concurrent log-probability evaluations; 0 uses GOMAXPROCS.
	Threads int
	Seed    uint64
	// Jitter is the standard deviation of the initial walker scatter.
	Jitter float64

	// Prepare is the channel window. The zero value takes the default of
	// the data's spectral resolution.
	Prepare observation.PrepareOptions
	// MinValidChannels is the number of unflagged channels every weighted
	// row needs; a unit below it is skipped.
	MinValidChannels int
	// Polarization selects one polarization, or AllPolarizations.
	Polarization int

	// NoFit evaluates the initial vector without sampling.
	NoFit bool
	// Prefit runs a Nelder-Mead minimization before the walkers start.
	Prefit           bool
	PrefitIterations int
	// BestChi2 reports the maximum-probability sample instead of the median.
	BestChi2 bool
	// Oversample evaluates the reported model on this many wavelengths
	// spanning the data. Zero uses the data grid.
	Oversample int

	// Share pools nuisance parameters across the parts of a joint fit.
	Share model.JointFlags
}

// DefaultOptions returns options for a single companion at the origin.
func DefaultOptions() Options {
	return Options{
		Mode:             spectral.Approx,
		Weights:          likelihood.DefaultWeights(),
		StarAlpha:        model.DefaultStarAlpha,
		Walkers:          DefaultWalkers,
		Steps:            DefaultSteps,
		Jitter:           DefaultJitter,
		MinValidChannels: DefaultMinValidChannels,
		Polarization:     AllPolarizations,
		PrefitIterations: DefaultPrefitIterations,
		Share:            model.JointFlags{OneBG: true},
	}
}

// Validate checks the options that do not depend on the data.
func (o Options) Validate() error {
	const op = "fit.Options.Validate"
	if _, err := spectral.New(o.Mode); err != nil {
		return err
	}
	if len(o.Sources) == 0 {
		return fiterr.Invalid(op, "at least one source is required")
	}
	for k, w := range o.Weights {
		if w < 0 || math.IsNaN(w) {
			return fiterr.Invalid(op, "weight for %s is %g", observation.Kind(k), w)
		}
	}
	if !o.NoFit {
		if o.Walkers < 2 || o.Walkers%2 != 0 {
			return fiterr.Invalid(op, "walkers must be even and at least 2, got %d", o.Walkers)
		}
		if o.Steps < 1 {
			return fiterr.Invalid(op, "steps must be positive, got %d", o.Steps)
		}
	}
	if o.Threads < 0 {
		return fiterr.Invalid(op, "threads must not be negative, got %d", o.Threads)
	}
	if o.Jitter <= 0 || math.IsNaN(o.Jitter) {
		return fiterr.Invalid(op, "jitter must be positive, got %g", o.Jitter)
	}
	if o.MinValidChannels < 1 {
		return fiterr.Invalid(op, "min_valid_channels must be at least 1, got %d", o.MinValidChannels)
	}
	if o.Polarization < AllPolarizations {
		return fiterr.Invalid(op, "polarization %d", o.Polarization)
	}
	if o.Prefit && o.PrefitIterations < 1 {
		return fiterr.Invalid(op, "prefit_iterations must be positive, got %d", o.PrefitIterations)
	}
	if o.Oversample < 0 || o.Oversample == 1 {
		return fiterr.Invalid(op, "oversample must be 0 or at least 2, got %d", o.Oversample)
	}
	return nil
}
