package fit

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/fyrsmithlabs/gravfit/internal/ensemble"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

// Percentiles of the marginal summaries.
const (
	lowerQuantile  = 0.16
	medianQuantile = 0.50
	upperQuantile  = 0.84
)

// window returns how many trailing steps feed the posterior summaries: the
// last 200 of a run longer than 300 steps, the last 100 of one longer than
// 200, otherwise all of them.
func window(steps int) int {
	switch {
	case steps > 300:
		return 200
	case steps > 200:
		return 100
	default:
		return steps
	}
}

// summary holds reduced-space posterior summaries.
type summary struct {
	best                 []float64
	bestLogProb          float64
	lower, median, upper []float64
	discard              int
}

// summarize takes the maximum-probability sample over the whole chain and
// the 16/50/84 percentiles over the trailing window.
func summarize(c *ensemble.Chain) summary {
	discard := c.Steps() - window(c.Steps())
	s := summary{discard: discard}

	all, lpAll := c.Flat(0)
	i := floats.MaxIdx(lpAll)
	s.best = append([]float64(nil), all[i]...)
	s.bestLogProb = lpAll[i]

	samples, _ := c.Flat(discard)
	dim := c.Dim()
	s.lower = make([]float64, dim)
	s.median = make([]float64, dim)
	s.upper = make([]float64, dim)
	col := make([]float64, len(samples))
	for d := 0; d < dim; d++ {
		for k, p := range samples {
			col[k] = p[d]
		}
		slices.Sort(col)
		s.lower[d] = stat.Quantile(lowerQuantile, stat.LinInterp, col, nil)
		s.median[d] = stat.Quantile(medianQuantile, stat.LinInterp, col, nil)
		s.upper[d] = stat.Quantile(upperQuantile, stat.LinInterp, col, nil)
	}
	return s
}

// weightedReducedChi2 averages the finite per-observable reduced chi-square
// values.
func weightedReducedChi2(r observation.Row) (float64, bool) {
	var sum float64
	n := 0
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
