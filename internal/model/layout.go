package model

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/params"
)

// Offsets of the nuisance parameters after the per-source block.
const (
	offAlphaBH = iota
	offFBG
	offAlphaBG
	offPCRA
	offPCDec
	offFrBH
	offCoh
	offOPD      = offCoh + interferometer.NumBaselines
	numNuisance = offOPD + interferometer.NumTelescopes
)

// Default initial values and bounds of the parameter layout.
const (
	DefaultFitSize   = 5.0
	DefaultAlphaBH   = -0.5
	DefaultFBG       = 0.1
	DefaultAlphaBG   = 3.0
	DefaultStarAlpha = 3.0

	phaseCenterBound = 5.0
	opdBound         = 10.0
	alphaBound       = 10.0
)

// FullLength returns the length of the full vector for n sources.
func FullLength(n int) int { return 3*n + numNuisance }

// Source is the initial guess of one companion relative to the central
// source.
type Source struct {
	RA, DEC   float64 // mas
	FluxRatio float64 // linear
}

// FitFlags selects which parameters are free.
type FitFlags struct {
	// FitPos and FitFr hold one entry per source. Empty means all free.
	FitPos []bool
	FitFr  []bool
	// FitSize is the half-width of the position bounds in mas.
	FitSize float64

	FixedBHAlpha     bool
	FitBGAlpha       bool
	FitPhaseCenter   bool
	FitBHFlux        bool
	FitCoherenceLoss bool
	FitOPDs          bool

	// Initial overrides initial values by parameter name.
	Initial map[string]float64
}

func perSource(flags []bool, k int) bool {
	if len(flags) == 0 {
		return true
	}
	return flags[k]
}

// BuildLayout assembles the named parameter layout for the given sources.
func BuildLayout(sources []Source, f FitFlags) (*params.Layout, error) {
	n := len(sources)
	if len(f.FitPos) != 0 && len(f.FitPos) != n {
		return nil, fiterr.Invalid("model.BuildLayout", "fit_pos has %d entries for %d sources", len(f.FitPos), n)
	}
	if len(f.FitFr) != 0 && len(f.FitFr) != n {
		return nil, fiterr.Invalid("model.BuildLayout", "fit_fr has %d entries for %d sources", len(f.FitFr), n)
	}
	size := f.FitSize
	if size <= 0 {
		size = DefaultFitSize
	}

	ps := make([]params.Parameter, 0, FullLength(n))
	for k, src := range sources {
		if src.FluxRatio <= 0 {
			return nil, fiterr.Invalid("model.BuildLayout", "source %d has flux ratio %g", k+1, src.FluxRatio)
		}
		fixPos := !perSource(f.FitPos, k)
		ps = append(ps,
			params.Parameter{Name: fmt.Sprintf("dRA%d", k+1), Value: src.RA, Lower: src.RA - size, Upper: src.RA + size, Fixed: fixPos},
			params.Parameter{Name: fmt.Sprintf("dDEC%d", k+1), Value: src.DEC, Lower: src.DEC - size, Upper: src.DEC + size, Fixed: fixPos},
			params.Parameter{Name: fmt.Sprintf("fr%d", k+1), Value: math.Log10(src.FluxRatio), Lower: math.Log10(0.001), Upper: 1, Fixed: !perSource(f.FitFr, k)},
		)
	}
	ps = append(ps,
		params.Parameter{Name: "alpha BH", Value: DefaultAlphaBH, Lower: -alphaBound, Upper: alphaBound, Fixed: f.FixedBHAlpha},
		params.Parameter{Name: "f BG", Value: DefaultFBG, Lower: 0, Upper: 20},
		params.Parameter{Name: "alpha BG", Value: DefaultAlphaBG, Lower: -alphaBound, Upper: alphaBound, Fixed: !f.FitBGAlpha},
		params.Parameter{Name: "pc RA", Value: 0, Lower: -phaseCenterBound, Upper: phaseCenterBound, Fixed: !f.FitPhaseCenter},
		params.Parameter{Name: "pc Dec", Value: 0, Lower: -phaseCenterBound, Upper: phaseCenterBound, Fixed: !f.FitPhaseCenter},
		params.Parameter{Name: "fr BH", Value: 1, Lower: 0.5, Upper: 1.5, Fixed: !f.FitBHFlux},
	)
	for i := 1; i <= interferometer.NumBaselines; i++ {
		ps = append(ps, params.Parameter{Name: fmt.Sprintf("coh%d", i), Value: 1, Lower: 0.5, Upper: 1.5, Fixed: !f.FitCoherenceLoss})
	}
	for i := 1; i <= interferometer.NumTelescopes; i++ {
		ps = append(ps, params.Parameter{Name: fmt.Sprintf("OPD%d", i), Value: 0, Lower: -opdBound, Upper: opdBound, Fixed: !f.FitOPDs})
	}

	for name, v := range f.Initial {
		found := false
		for i := range ps {
			if ps[i].Name == name {
				ps[i].Value = v
				found = true
				break
			}
		}
		if !found {
			return nil, fiterr.Invalid("model.BuildLayout", "unknown parameter %q in initial values", name)
		}
	}
	return params.NewLayout(ps)
}
