// Package likelihood turns model observables into the scalar log
// probability explored by the sampler.
package likelihood

import (
	"errors"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/params"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
)

// CoherencePriorWidth is the width of the Gaussian prior around 1 applied to
// free coherence-loss parameters.
const CoherencePriorWidth = 0.05

// Weights holds one non-negative weight per observable, indexed by
// observation.Kind.
type Weights [observation.NumKinds]float64

// DefaultWeights weights amplitudes by half and closure phases fully.
func DefaultWeights() Weights {
	return Weights{observation.VisAmp: 0.5, observation.Vis2: 0.5, observation.ClosurePhase: 1}
}

// Terms holds the chi-square of every observable.
type Terms [observation.NumKinds]float64

// Target is the log probability of one fit unit. It is immutable and safe
// for concurrent use.
type Target struct {
	model    *model.Model
	layout   *params.Layout
	sampling *model.Sampling
	unit     *observation.Unit
	weights  Weights

	lower, upper []float64
	cohIdx       []int
	cohPrior     distuv.Normal
}

// New binds a model and a prepared unit. Every observable with a positive
// weight must carry values and errors shaped like the model output.
func New(m *model.Model, layout *params.Layout, smp *model.Sampling, unit *observation.Unit, w Weights) (*Target, error) {
	if layout.Len() != m.Len() {
		return nil, fiterr.Invalid("likelihood.New", "layout has %d parameters, model expects %d", layout.Len(), m.Len())
	}
	for k := observation.Kind(0); k < observation.NumKinds; k++ {
		if w[k] < 0 || math.IsNaN(w[k]) {
			return nil, fiterr.Invalid("likelihood.New", "weight of %s is %g", k, w[k])
		}
		if w[k] == 0 {
			continue
		}
		blk := unit.Blocks[k]
		if !blk.Present() || len(blk.Error) == 0 {
			return nil, fiterr.Invalid("likelihood.New", "%s has weight %g but no data or errors", k, w[k])
		}
		if len(blk.Value) != k.Rows() {
			return nil, fiterr.Mismatch("likelihood.New", "%s has %d rows, want %d", k, len(blk.Value), k.Rows())
		}
		for row := range blk.Value {
			if len(blk.Value[row]) != smp.Channels() || len(blk.Error[row]) != smp.Channels() {
				return nil, fiterr.Mismatch("likelihood.New", "%s row %d does not have %d channels", k, row, smp.Channels())
			}
		}
	}

	t := &Target{
		model:    m,
		layout:   layout,
		sampling: smp,
		unit:     unit,
		weights:  w,
		cohPrior: distuv.Normal{Mu: 1, Sigma: CoherencePriorWidth},
	}
	t.lower, t.upper = layout.Bounds()
	for i, name := range layout.FreeNames() {
		if strings.HasPrefix(name, "coh") {
			t.cohIdx = append(t.cohIdx, i)
		}
	}
	return t, nil
}

// Layout returns the parameter layout.
func (t *Target) Layout() *params.Layout { return t.layout }

// Dim returns the dimension of the reduced vector.
func (t *Target) Dim() int { return t.layout.NumFree() }

// InBounds reports whether the reduced vector lies within the box prior.
func (t *Target) InBounds(reduced []float64) bool {
	for i, x := range reduced {
		if !(x >= t.lower[i] && x <= t.upper[i]) {
			return false
		}
	}
	return true
}

// LogProb returns the log posterior of a reduced vector. Vectors outside the
// box prior or landing outside the phase map score -Inf.
func (t *Target) LogProb(reduced []float64) float64 {
	if len(reduced) != t.Dim() || !t.InBounds(reduced) {
		return math.Inf(-1)
	}
	full, err := t.layout.Expand(reduced)
	if err != nil {
		return math.Inf(-1)
	}
	lp, err := t.LogLike(full)
	if err != nil || math.IsNaN(lp) {
		return math.Inf(-1)
	}
	for _, i := range t.cohIdx {
		lp += t.cohPrior.LogProb(reduced[i])
	}
	return lp
}

// LogLike returns -0.5 times the weighted chi-square of the full vector.
func (t *Target) LogLike(full []float64) (float64, error) {
	terms, _, err := t.Chi2(full)
	if err != nil {
		if errors.Is(err, phasemap.ErrOutsideGrid) {
			return math.Inf(-1), nil
		}
		return 0, err
	}
	var ll float64
	for k, c := range terms {
		if t.weights[k] > 0 {
			ll -= t.weights[k] * c
		}
	}
	return 0.5 * ll, nil
}

// Chi2 evaluates the model and returns the chi-square of every weighted
// observable together with the model result. Unweighted terms are zero.
func (t *Target) Chi2(full []float64) (Terms, *model.Result, error) {
	var terms Terms
	res, err := t.model.Evaluate(full, t.sampling)
	if err != nil {
		return terms, nil, err
	}
	for k := observation.Kind(0); k < observation.NumKinds; k++ {
		if t.weights[k] > 0 {
			terms[k] = chi2(k, t.unit.Blocks[k], res.Observable(k))
		}
	}
	return terms, res, nil
}

// ReducedChi2 returns the chi-square of every weighted observable divided
// by its unflagged entry count minus the number of free parameters. Terms
// without data or degrees of freedom are NaN.
func (t *Target) ReducedChi2(full []float64) (Terms, error) {
	terms, _, err := t.Chi2(full)
	if err != nil {
		return terms, err
	}
	ndof := t.Dim()
	for k := range terms {
		if t.weights[k] == 0 {
			terms[k] = math.NaN()
			continue
		}
		total, flagged := t.unit.Blocks[k].Count()
		if dof := total - flagged - ndof; dof > 0 {
			terms[k] /= float64(dof)
		} else {
			terms[k] = math.NaN()
		}
	}
	return terms, nil
}

func chi2(k observation.Kind, data observation.Block, mod [][]float64) float64 {
	var sum float64
	for row, vals := range data.Value {
		for ch, v := range vals {
			if data.Flagged(row, ch) {
				continue
			}
			var r float64
			if k.IsPhase() {
				r = interferometer.CircularDistance(mod[row][ch], v)
			} else {
				r = mod[row][ch] - v
			}
			e := data.Error[row][ch]
			sum += r * r / (e * e)
		}
	}
	return sum
}
