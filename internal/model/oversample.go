package model

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// Oversample returns a sampling with n evenly spaced wavelengths spanning
// the range of smp. Channel widths are linearly interpolated from smp.
func Oversample(smp *Sampling, n int) (*Sampling, error) {
	nch := smp.Channels()
	if n < 2 || nch < 2 {
		return nil, fiterr.Invalid("model.Oversample", "cannot oversample %d channels to %d", nch, n)
	}
	out := &Sampling{U: smp.U, V: smp.V, Wave: make([]float64, n)}
	lo, hi := smp.Wave[0], smp.Wave[nch-1]
	floats.Span(out.Wave, lo, hi)

	xs, flip := smp.Wave, lo > hi
	if flip {
		xs = reversed(xs)
	}
	for j := 1; j < nch; j++ {
		if !(xs[j] > xs[j-1]) {
			return nil, fiterr.Invalid("model.Oversample", "wavelengths are not strictly monotonic at channel %d", j)
		}
	}
	for i := 0; i < nb; i++ {
		ys := smp.DLambda[i]
		if flip {
			ys = reversed(ys)
		}
		if len(ys) != nch {
			return nil, fiterr.Mismatch("model.Oversample", "baseline %d has %d channel widths for %d channels", i, len(ys), nch)
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, fiterr.Invalid("model.Oversample", "baseline %d channel widths: %v", i, err)
		}
		out.DLambda[i] = make([]float64, n)
		for j, w := range out.Wave {
			out.DLambda[i][j] = pl.Predict(w)
		}
	}
	return out, nil
}

func reversed(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[len(x)-1-i] = v
	}
	return out
}
