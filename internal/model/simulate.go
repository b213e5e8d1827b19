package model

import (
	"math/rand/v2"

	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

// Errors written to noiseless synthetic data.
const (
	defaultAmpError   = 0.01
	defaultPhaseError = 1.0
)

// SimulateOptions control synthetic data generation.
type SimulateOptions struct {
	// AmpNoise is the Gaussian noise of amplitudes and squared
	// visibilities. PhaseNoise is in degrees.
	AmpNoise   float64
	PhaseNoise float64
	Rand       *rand.Rand
}

// Simulate evaluates the model for theta on the sampling of template and
// returns a new bundle holding the model observables plus noise. Flags are
// cleared.
func Simulate(m *Model, theta []float64, template *observation.Bundle, opts SimulateOptions) (*observation.Bundle, error) {
	units, err := template.Units(-1)
	if err != nil {
		return nil, err
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}

	out := *template
	out.Wave = append([]float64(nil), template.Wave...)
	out.Pols = make([]observation.Dataset, len(template.Pols))
	for p := range out.Pols {
		src := &template.Pols[p]
		ndit := src.NDIT()
		d := &out.Pols[p]
		d.U = append([]float64(nil), src.U...)
		d.V = append([]float64(nil), src.V...)
		for k := observation.Kind(0); k < observation.NumKinds; k++ {
			*d.Block(k) = emptyBlock(ndit*k.Rows(), len(out.Wave))
		}
	}

	for i := range units {
		u := &units[i]
		smp, err := NewSampling(template, u)
		if err != nil {
			return nil, err
		}
		res, err := m.Evaluate(theta, smp)
		if err != nil {
			return nil, err
		}
		d := &out.Pols[u.Polarization]
		for k := observation.Kind(0); k < observation.NumKinds; k++ {
			noise, nominal := opts.AmpNoise, defaultAmpError
			if k.IsPhase() {
				noise, nominal = opts.PhaseNoise, defaultPhaseError
			}
			errv := nominal
			if noise > 0 {
				errv = noise
			}
			blk := d.Block(k)
			for row, vals := range res.Observable(k) {
				r := u.DIT*k.Rows() + row
				for ch, v := range vals {
					if noise > 0 {
						v += noise * rng.NormFloat64()
					}
					if k.IsPhase() {
						v = interferometer.WrapPhase(v)
					}
					blk.Value[r][ch] = v
					blk.Error[r][ch] = errv
				}
			}
		}
	}
	return &out, nil
}

func emptyBlock(rows, nch int) observation.Block {
	b := observation.Block{
		Value: make([]observation.Row, rows),
		Error: make([]observation.Row, rows),
		Flag:  make([][]bool, rows),
	}
	for i := 0; i < rows; i++ {
		b.Value[i] = make(observation.Row, nch)
		b.Error[i] = make(observation.Row, nch)
		b.Flag[i] = make([]bool, nch)
	}
	return b
}
