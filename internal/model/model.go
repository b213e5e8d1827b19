// Package model evaluates the multi-point-source visibility model on the six
// baselines and four closure triangles of the array.
package model

import (
	"math"
	"math/cmplx"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
)

const (
	nb = interferometer.NumBaselines
	nt = interferometer.NumTriangles
)

// Options is the immutable configuration of a model. It is shared by all
// evaluations of a fit and never mutated.
type Options struct {
	Mode       spectral.Mode
	NumSources int
	// StarAlpha is the spectral index of every companion.
	StarAlpha float64
	// FitPhaseCenter enables the phase-center offset in the baseline phase
	// terms. When false the offset only moves the phase-map lookup.
	FitPhaseCenter bool
}

// Model evaluates visibilities for full parameter vectors. It is safe for
// concurrent use.
type Model struct {
	opts       Options
	integrator spectral.Integrator
	corrector  *phasemap.Corrector
	// frozen holds couplings looked up once by Freeze. Nil means every
	// evaluation looks them up at its own source positions.
	frozen []*phasemap.Coupling
}

// New builds a model. A nil corrector disables phase-map corrections.
func New(opts Options, corrector *phasemap.Corrector) (*Model, error) {
	in, err := spectral.New(opts.Mode)
	if err != nil {
		return nil, err
	}
	if opts.NumSources < 0 {
		return nil, fiterr.Invalid("model.New", "negative source count %d", opts.NumSources)
	}
	return &Model{opts: opts, integrator: in, corrector: corrector}, nil
}

// Options returns the model configuration.
func (m *Model) Options() Options { return m.opts }

// Freeze returns a copy of m that reuses the phase-map couplings of theta
// for every evaluation, so source and phase-center moves no longer change
// the correction. A model without a corrector is returned unchanged.
func (m *Model) Freeze(theta []float64) (*Model, error) {
	if m.corrector == nil {
		return m, nil
	}
	if len(theta) != m.Len() {
		return nil, fiterr.Invalid("model.Freeze", "parameter vector has %d entries, want %d", len(theta), m.Len())
	}
	coupling, err := m.lookup(theta, m.corrector.Channels())
	if err != nil {
		return nil, err
	}
	frozen := *m
	frozen.frozen = coupling
	return &frozen, nil
}

// Frozen reports whether the couplings are fixed.
func (m *Model) Frozen() bool { return m.frozen != nil }

// Couplings returns the couplings of the central source and every companion
// that Evaluate applies for theta.
func (m *Model) Couplings(theta []float64, nch int) ([]*phasemap.Coupling, error) {
	if len(theta) != m.Len() {
		return nil, fiterr.Invalid("model.Couplings", "parameter vector has %d entries, want %d", len(theta), m.Len())
	}
	if m.frozen != nil {
		return m.frozen, nil
	}
	return m.lookup(theta, nch)
}

// lookup reads the couplings of the central source (index 0) and every
// companion from the phase maps.
func (m *Model) lookup(theta []float64, nch int) ([]*phasemap.Coupling, error) {
	n := m.opts.NumSources
	coupling := make([]*phasemap.Coupling, n+1)
	if m.corrector == nil {
		unity := phasemap.Unity(nch)
		for k := range coupling {
			coupling[k] = unity
		}
		return coupling, nil
	}
	nuis := theta[3*n:]
	pcRA, pcDec := nuis[offPCRA], nuis[offPCDec]
	for k := range coupling {
		coupling[k] = phasemap.NewCoupling(nch)
		x, y := pcRA, pcDec
		if k > 0 {
			x, y = pcRA+theta[3*(k-1)], pcDec+theta[3*(k-1)+1]
		}
		if err := m.corrector.Lookup(x, y, coupling[k]); err != nil {
			return nil, err
		}
	}
	return coupling, nil
}

// Len returns the expected length of the full parameter vector.
func (m *Model) Len() int { return FullLength(m.opts.NumSources) }

// Sampling is the baseline and spectral sampling of one fit unit.
type Sampling struct {
	U, V [nb]float64 // meters
	Wave []float64   // micrometers
	// DLambda holds the channel half-widths per baseline.
	DLambda [nb][]float64
}

// NewSampling takes the sampling of unit u from bundle b.
func NewSampling(b *observation.Bundle, u *observation.Unit) (*Sampling, error) {
	s := &Sampling{U: u.U, V: u.V, Wave: append([]float64(nil), b.Wave...)}
	for i := 0; i < nb; i++ {
		w, err := b.ChannelWidths(i)
		if err != nil {
			return nil, err
		}
		s.DLambda[i] = w
	}
	return s, nil
}

// Channels returns the number of spectral channels.
func (s *Sampling) Channels() int { return len(s.Wave) }

// Result holds model observables, baselines or triangles by channels.
type Result struct {
	VisAmp  [nb][]float64
	Vis2    [nb][]float64
	VisPhi  [nb][]float64 // degrees
	Closure [nt][]float64 // degrees
	ClosAmp [nt][]float64
}

func newResult(nch int) *Result {
	r := &Result{}
	for i := 0; i < nb; i++ {
		r.VisAmp[i] = make([]float64, nch)
		r.Vis2[i] = make([]float64, nch)
		r.VisPhi[i] = make([]float64, nch)
	}
	for i := 0; i < nt; i++ {
		r.Closure[i] = make([]float64, nch)
		r.ClosAmp[i] = make([]float64, nch)
	}
	return r
}

// Observable returns the model rows matching an observable kind.
func (r *Result) Observable(k observation.Kind) [][]float64 {
	switch k {
	case observation.VisAmp:
		return r.VisAmp[:]
	case observation.Vis2:
		return r.Vis2[:]
	case observation.ClosurePhase:
		return r.Closure[:]
	case observation.VisPhi:
		return r.VisPhi[:]
	case observation.ClosureAmp:
		return r.ClosAmp[:]
	}
	return nil
}

// Evaluate computes the model observables for the full vector theta.
// Phase-map lookups outside the grid return an error wrapping
// phasemap.ErrOutsideGrid.
func (m *Model) Evaluate(theta []float64, smp *Sampling) (*Result, error) {
	n := m.opts.NumSources
	if len(theta) != m.Len() {
		return nil, fiterr.Invalid("model.Evaluate", "parameter vector has %d entries, want %d", len(theta), m.Len())
	}
	nch := smp.Channels()
	for i := 0; i < nb; i++ {
		if len(smp.DLambda[i]) != nch {
			return nil, fiterr.Mismatch("model.Evaluate", "baseline %d has %d channel widths for %d channels", i, len(smp.DLambda[i]), nch)
		}
	}
	if m.corrector != nil && m.corrector.Channels() != nch {
		return nil, fiterr.Mismatch("model.Evaluate", "phase map has %d channels, sampling has %d", m.corrector.Channels(), nch)
	}

	nuis := theta[3*n:]
	alphaBH := nuis[offAlphaBH]
	fBG := nuis[offFBG]
	alphaBG := nuis[offAlphaBG]
	pcRA, pcDec := nuis[offPCRA], nuis[offPCDec]
	frBH := nuis[offFrBH]
	coh := nuis[offCoh : offCoh+nb]
	opd := nuis[offOPD : offOPD+interferometer.NumTelescopes]

	ra := make([]float64, n)
	dec := make([]float64, n)
	fr := make([]float64, n)
	for k := 0; k < n; k++ {
		ra[k], dec[k], fr[k] = theta[3*k], theta[3*k+1], math.Pow(10, theta[3*k+2])
	}

	coupling, err := m.Couplings(theta, nch)
	if err != nil {
		return nil, err
	}

	if !m.opts.FitPhaseCenter {
		pcRA, pcDec = 0, 0
	}

	pairs := make([][nb]phasemap.BaselinePair, len(coupling))
	for k, c := range coupling {
		pairs[k] = c.Baselines()
	}

	res := newResult(nch)
	s := make([]float64, nch)
	vis := make([]complex128, nch)
	nom := make([]complex128, nch)
	on := make([]complex128, nch)
	zero := []float64{0}

	for i, tels := range interferometer.BaselineTelescopes {
		a, b := tels[0], tels[1]
		u, v := smp.U[i], smp.V[i]
		dl := smp.DLambda[i]
		opdTerm := opd[a] - opd[b]
		central := pairs[0][i]

		phaseTerms := func(ra, dec float64, pair phasemap.BaselinePair) {
			base := interferometer.PhaseTerm(ra, dec, u, v) + opdTerm
			for ch := range s {
				s[ch] = base - (pair.Phase[0][ch]-pair.Phase[1][ch])/360*smp.Wave[ch]
			}
		}

		phaseTerms(pcRA, pcDec, central)
		if err := spectral.Fill(m.integrator, nom, s, alphaBH, smp.Wave, dl); err != nil {
			return nil, err
		}

		if err := spectral.Fill(m.integrator, on, zero, alphaBH, smp.Wave, dl); err != nil {
			return nil, err
		}
		d1, d2 := realParts(on), realParts(on)

		if n > 0 {
			onStar := make([]complex128, nch)
			if err := spectral.Fill(m.integrator, onStar, zero, m.opts.StarAlpha, smp.Wave, dl); err != nil {
				return nil, err
			}
			for k := 0; k < n; k++ {
				pair := pairs[k+1][i]
				phaseTerms(pcRA+ra[k], pcDec+dec[k], pair)
				if err := spectral.Fill(m.integrator, vis, s, m.opts.StarAlpha, smp.Wave, dl); err != nil {
					return nil, err
				}
				for ch := range vis {
					cr1 := sq(pair.Amp[0][ch] / central.Amp[0][ch])
					cr2 := sq(pair.Amp[1][ch] / central.Amp[1][ch])
					nom[ch] += complex(fr[k]*math.Sqrt(cr1*cr2), 0) * vis[ch]
					d1[ch] += fr[k] * pair.Intensity[0][ch] / central.Intensity[0][ch] * real(onStar[ch])
					d2[ch] += fr[k] * pair.Intensity[1][ch] / central.Intensity[1][ch] * real(onStar[ch])
				}
			}
		}

		if err := spectral.Fill(m.integrator, on, zero, alphaBG, smp.Wave, dl); err != nil {
			return nil, err
		}
		for ch := range nom {
			bg := fBG * real(on[ch])
			vc := nom[ch] / complex(math.Sqrt(d1[ch]+bg)*math.Sqrt(d2[ch]+bg), 0)
			res.VisAmp[i][ch] = cmplx.Abs(vc)
			res.VisPhi[i][ch] = interferometer.WrapPhase(cmplx.Phase(vc) * 180 / math.Pi)
		}
	}

	for t, bl := range interferometer.ClosureBaselines {
		for ch := 0; ch < nch; ch++ {
			sum := res.VisPhi[bl[0]][ch] + res.VisPhi[bl[1]][ch] - res.VisPhi[bl[2]][ch]
			res.Closure[t][ch] = interferometer.WrapPhase(sum)
			res.ClosAmp[t][ch] = res.VisAmp[bl[0]][ch] * res.VisAmp[bl[1]][ch] * res.VisAmp[bl[2]][ch]
		}
	}

	for i := 0; i < nb; i++ {
		scale := frBH * coh[i]
		for ch := 0; ch < nch; ch++ {
			res.VisAmp[i][ch] *= scale
			res.Vis2[i][ch] = sq(res.VisAmp[i][ch])
		}
	}
	return res, nil
}

func realParts(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out
}

func sq(x float64) float64 { return x * x }
