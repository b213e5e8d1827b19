// Package params maps between the full physical parameter vector and the
// reduced vector of free parameters explored by a sampler.
//
// A reduced vector is always paired with the indices removed from the full
// vector (todel) and the values held at those indices (fixed). Expand
// re-inserts fixed[i] at todel[i] in ascending index order, so the pairing
// reconstructs the exact full vector.
package params

import (
	"sort"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// Reduce removes the entries at todel from full. fixed[i] holds the value
// that was stored at todel[i]. todel may be given in any order but must
// not repeat an index.
func Reduce(full []float64, todel []int) (reduced, fixed []float64, err error) {
	drop := make(map[int]bool, len(todel))
	fixed = make([]float64, len(todel))
	for i, idx := range todel {
		if idx < 0 || idx >= len(full) {
			return nil, nil, fiterr.Invalid("params.Reduce", "index %d outside vector of length %d", idx, len(full))
		}
		if drop[idx] {
			return nil, nil, fiterr.Invalid("params.Reduce", "index %d listed twice", idx)
		}
		drop[idx] = true
		fixed[i] = full[idx]
	}

	reduced = make([]float64, 0, len(full)-len(todel))
	for i, v := range full {
		if !drop[i] {
			reduced = append(reduced, v)
		}
	}
	return reduced, fixed, nil
}

// Expand rebuilds the full vector by inserting fixed[i] at todel[i],
// processing indices in ascending order so every insertion happens in the
// index space of the vector grown so far.
func Expand(reduced []float64, todel []int, fixed []float64) ([]float64, error) {
	if len(todel) != len(fixed) {
		return nil, fiterr.Invalid("params.Expand", "%d indices but %d fixed values", len(todel), len(fixed))
	}

	order := make([]int, len(todel))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return todel[order[a]] < todel[order[b]] })

	full := make([]float64, 0, len(reduced)+len(todel))
	full = append(full, reduced...)
	prev := -1
	for _, k := range order {
		idx := todel[k]
		if idx == prev {
			return nil, fiterr.Invalid("params.Expand", "index %d listed twice", idx)
		}
		if idx < 0 || idx > len(full) {
			return nil, fiterr.Invalid("params.Expand", "index %d outside vector of length %d", idx, len(full))
		}
		full = append(full, 0)
		copy(full[idx+1:], full[idx:])
		full[idx] = fixed[k]
		prev = idx
	}
	return full, nil
}
