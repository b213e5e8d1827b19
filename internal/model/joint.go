package model

import (
	"fmt"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/params"
)

// JointFlags selects the nuisance parameters a joint fit shares between its
// parts. Everything else in the nuisance block is fitted per part.
type JointFlags struct {
	// OneBHAlpha fits a single central-source spectral index.
	OneBHAlpha bool
	// OneBG fits a single background flux.
	OneBG bool
}

// JointLayout is the parameter layout of a fit over several units at once.
// Source positions and flux ratios are shared; each part keeps its own
// nuisance block, suffixed "-<part>" in the parameter names.
type JointLayout struct {
	layout *params.Layout
	base   *params.Layout
	parts  int
	// slots[p][i] is the joint position of entry i of part p's full vector.
	slots [][]int
}

// BuildJointLayout lays out the joint vector for parts units fitted with
// the same sources and flags.
func BuildJointLayout(sources []Source, f FitFlags, parts int, share JointFlags) (*JointLayout, error) {
	if parts < 1 {
		return nil, fiterr.Invalid("model.BuildJointLayout", "need at least one part, got %d", parts)
	}
	base, err := BuildLayout(sources, f)
	if err != nil {
		return nil, err
	}

	n := 3 * len(sources)
	ps := make([]params.Parameter, 0, n+parts*numNuisance)
	for i := 0; i < n; i++ {
		ps = append(ps, base.Parameter(i))
	}

	shared := map[int]bool{offAlphaBH: share.OneBHAlpha, offFBG: share.OneBG}
	first := make(map[int]int, len(shared))
	slots := make([][]int, parts)
	for p := range slots {
		slots[p] = make([]int, base.Len())
		for i := 0; i < n; i++ {
			slots[p][i] = i
		}
		for j := 0; j < numNuisance; j++ {
			if at, ok := first[j]; ok {
				slots[p][n+j] = at
				continue
			}
			par := base.Parameter(n + j)
			if shared[j] {
				first[j] = len(ps)
			} else {
				par.Name = fmt.Sprintf("%s-%d", par.Name, p+1)
			}
			slots[p][n+j] = len(ps)
			ps = append(ps, par)
		}
	}

	layout, err := params.NewLayout(ps)
	if err != nil {
		return nil, err
	}
	return &JointLayout{layout: layout, base: base, parts: parts, slots: slots}, nil
}

// Layout returns the layout of the joint vector.
func (j *JointLayout) Layout() *params.Layout { return j.layout }

// Base returns the single-unit layout every part is evaluated with.
func (j *JointLayout) Base() *params.Layout { return j.base }

// Parts returns the number of parts.
func (j *JointLayout) Parts() int { return j.parts }

// Split returns the full single-unit vector of part p.
func (j *JointLayout) Split(full []float64, p int) ([]float64, error) {
	if len(full) != j.layout.Len() {
		return nil, fiterr.Invalid("model.JointLayout.Split", "got %d values, want %d", len(full), j.layout.Len())
	}
	if p < 0 || p >= j.parts {
		return nil, fiterr.Invalid("model.JointLayout.Split", "part %d of %d", p, j.parts)
	}
	out := make([]float64, len(j.slots[p]))
	for i, at := range j.slots[p] {
		out[i] = full[at]
	}
	return out, nil
}
