package fit

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/logging"
	"go.uber.org/zap"
)

// penalty replaces -Inf log probabilities so the simplex can step back
// inside the prior box.
const penalty = 1e100

// maxJitterTries bounds the redraws of one walker that lands outside the
// prior box.
const maxJitterTries = 1000

// prefit minimizes -log probability with Nelder-Mead from start. The start
// vector is returned unchanged when the optimizer does not improve on it.
func prefit(ctx context.Context, tg posterior, start []float64, iterations int) []float64 {
	f := func(x []float64) float64 {
		lp := tg.LogProb(x)
		if math.IsInf(lp, -1) || math.IsNaN(lp) {
			return penalty
		}
		return -lp
	}
	res, err := optimize.Minimize(
		optimize.Problem{Func: f},
		start,
		&optimize.Settings{MajorIterations: iterations},
		&optimize.NelderMead{},
	)
	logger := logging.FromContext(ctx)
	if err != nil || res == nil {
		logger.Warn(ctx, "prefit failed, starting from initial guess", zap.Error(err))
		return start
	}
	if res.F >= f(start) || !tg.InBounds(res.X) {
		logger.Debug(ctx, "prefit did not improve", zap.String("status", res.Status.String()))
		return start
	}
	logger.Debug(ctx, "prefit finished",
		zap.String("status", res.Status.String()),
		zap.Int("evaluations", res.FuncEvaluations),
		zap.Float64("log_prob", -res.F),
	)
	return append([]float64(nil), res.X...)
}

// initialWalkers scatters walkers around start with Gaussian jitter,
// redrawing any that fall outside the prior or have zero probability.
func initialWalkers(tg posterior, start []float64, walkers int, jitter float64, rng *rand.Rand) ([][]float64, error) {
	pos := make([][]float64, walkers)
	for w := range pos {
		p := make([]float64, len(start))
		ok := false
		for try := 0; try < maxJitterTries && !ok; try++ {
			for d := range p {
				p[d] = start[d] + jitter*rng.NormFloat64()
			}
			ok = tg.InBounds(p) && !math.IsInf(tg.LogProb(p), -1)
		}
		if !ok {
			return nil, fiterr.Invalid("fit.initialWalkers",
				"no walker position with finite probability within %d draws around the initial guess", maxJitterTries)
		}
		pos[w] = p
	}
	return pos, nil
}
