package likelihood

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/params"
)

// Joint is the log probability of several units sharing one parameter
// vector: the sum of every part's log likelihood under the joint box and
// coherence priors. It is immutable and safe for concurrent use.
type Joint struct {
	layout *model.JointLayout
	parts  []*Target

	lower, upper []float64
	cohIdx       []int
	cohPrior     distuv.Normal
}

// NewJoint binds one target per part of layout. Every target must use the
// layout's single-unit parameter order.
func NewJoint(layout *model.JointLayout, parts []*Target) (*Joint, error) {
	if len(parts) != layout.Parts() {
		return nil, fiterr.Invalid("likelihood.NewJoint", "%d targets for %d parts", len(parts), layout.Parts())
	}
	for p, t := range parts {
		if t.Layout().Len() != layout.Base().Len() {
			return nil, fiterr.Mismatch("likelihood.NewJoint", "part %d has %d parameters, want %d", p+1, t.Layout().Len(), layout.Base().Len())
		}
		if t.weights != parts[0].weights {
			return nil, fiterr.Invalid("likelihood.NewJoint", "part %d uses different observable weights", p+1)
		}
	}
	j := &Joint{
		layout:   layout,
		parts:    append([]*Target(nil), parts...),
		cohPrior: distuv.Normal{Mu: 1, Sigma: CoherencePriorWidth},
	}
	j.lower, j.upper = layout.Layout().Bounds()
	for i, name := range layout.Layout().FreeNames() {
		if strings.HasPrefix(name, "coh") {
			j.cohIdx = append(j.cohIdx, i)
		}
	}
	return j, nil
}

// Layout returns the joint parameter layout.
func (j *Joint) Layout() *params.Layout { return j.layout.Layout() }

// Parts returns the per-part targets.
func (j *Joint) Parts() []*Target { return j.parts }

// Split returns the single-unit full vector of part p.
func (j *Joint) Split(full []float64, p int) ([]float64, error) { return j.layout.Split(full, p) }

// Dim returns the dimension of the reduced joint vector.
func (j *Joint) Dim() int { return j.layout.Layout().NumFree() }

// InBounds reports whether the reduced vector lies within the box prior.
func (j *Joint) InBounds(reduced []float64) bool {
	for i, x := range reduced {
		if !(x >= j.lower[i] && x <= j.upper[i]) {
			return false
		}
	}
	return true
}

// LogProb returns the joint log posterior of a reduced vector.
func (j *Joint) LogProb(reduced []float64) float64 {
	if len(reduced) != j.Dim() || !j.InBounds(reduced) {
		return math.Inf(-1)
	}
	full, err := j.Layout().Expand(reduced)
	if err != nil {
		return math.Inf(-1)
	}
	lp, err := j.LogLike(full)
	if err != nil || math.IsNaN(lp) {
		return math.Inf(-1)
	}
	for _, i := range j.cohIdx {
		lp += j.cohPrior.LogProb(reduced[i])
	}
	return lp
}

// LogLike sums the log likelihood of every part at the joint full vector.
func (j *Joint) LogLike(full []float64) (float64, error) {
	var ll float64
	for p, t := range j.parts {
		theta, err := j.layout.Split(full, p)
		if err != nil {
			return 0, err
		}
		v, err := t.LogLike(theta)
		if err != nil {
			return 0, err
		}
		if math.IsInf(v, -1) {
			return v, nil
		}
		ll += v
	}
	return ll, nil
}

// Chi2 sums the chi-square of every part.
func (j *Joint) Chi2(full []float64) (Terms, error) {
	var sum Terms
	for p, t := range j.parts {
		theta, err := j.layout.Split(full, p)
		if err != nil {
			return sum, err
		}
		terms, _, err := t.Chi2(theta)
		if err != nil {
			return sum, err
		}
		for k := range sum {
			sum[k] += terms[k]
		}
	}
	return sum, nil
}

// ReducedChi2 divides the summed chi-square of every weighted observable by
// its unflagged entry count over all parts minus the joint free parameter
// count. Terms without data or degrees of freedom are NaN.
func (j *Joint) ReducedChi2(full []float64) (Terms, error) {
	terms, err := j.Chi2(full)
	if err != nil {
		return terms, err
	}
	for k := range terms {
		if j.parts[0].weights[k] == 0 {
			terms[k] = math.NaN()
			continue
		}
		var valid int
		for _, t := range j.parts {
			total, flagged := t.unit.Blocks[observation.Kind(k)].Count()
			valid += total - flagged
		}
		if dof := valid - j.Dim(); dof > 0 {
			terms[k] /= float64(dof)
		} else {
			terms[k] = math.NaN()
		}
	}
	return terms, nil
}
