package spectral

import (
	"math"
	"math/cmplx"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// DefaultNodes is the number of quadrature nodes of the numeric strategy.
const DefaultNodes = 100

// Integrator evaluates the channel-integrated visibility of one source.
// Implementations are stateless and safe for concurrent use.
type Integrator interface {
	Integrate(s, alpha, wave, dlambda float64) complex128
}

// New returns the integrator for mode.
func New(mode Mode) (Integrator, error) {
	switch mode {
	case Approx:
		return ApproxIntegrator{}, nil
	case Analytic:
		return AnalyticIntegrator{}, nil
	case Numeric:
		return NumericIntegrator{Nodes: DefaultNodes}, nil
	case Monochromatic:
		return MonochromaticIntegrator{}, nil
	}
	return nil, fiterr.Invalid("spectral.New", "unknown mode %d", int(mode))
}

// ApproxIntegrator linearizes the phase across the channel.
type ApproxIntegrator struct{}

// Integrate implements Integrator.
func (ApproxIntegrator) Integrate(s, alpha, wave, dlambda float64) complex128 {
	amp := math.Pow(wave/RefWavelength, -1-alpha) * 2 * dlambda * sinc(2*s*dlambda/(wave*wave))
	return complex(amp, 0) * cmplx.Exp(complex(0, -2*math.Pi*s/wave))
}

// MonochromaticIntegrator keeps the channel flux but evaluates the fringe
// at the channel center only.
type MonochromaticIntegrator struct{}

// Integrate implements Integrator.
func (MonochromaticIntegrator) Integrate(s, alpha, wave, dlambda float64) complex128 {
	amp := math.Pow(wave/RefWavelength, -1-alpha) * 2 * dlambda
	return complex(amp, 0) * cmplx.Exp(complex(0, -2*math.Pi*s/wave))
}

// NumericIntegrator integrates with the trapezoidal rule on Nodes
// log-spaced wavelengths.
type NumericIntegrator struct {
	Nodes int
}

// Integrate implements Integrator.
func (n NumericIntegrator) Integrate(s, alpha, wave, dlambda float64) complex128 {
	dlambda = math.Abs(dlambda)
	lo, hi := wave-dlambda, wave+dlambda
	if s == 0 && alpha != 0 {
		return complex(onAxis(alpha, lo, hi), 0)
	}

	nodes := n.Nodes
	if nodes < 2 {
		nodes = DefaultNodes
	}
	x := floats.LogSpan(make([]float64, nodes), lo, hi)
	re := make([]float64, nodes)
	im := make([]float64, nodes)
	for i, l := range x {
		amp := math.Pow(l/RefWavelength, -1-alpha)
		sin, cos := math.Sincos(-2 * math.Pi * s / l)
		re[i] = amp * cos
		im[i] = amp * sin
	}
	return complex(integrate.Trapezoidal(x, re), integrate.Trapezoidal(x, im))
}

// onAxis is the s=0 closed form for alpha != 0.
func onAxis(alpha, lo, hi float64) float64 {
	c := -math.Pow(RefWavelength, 1+alpha) / alpha
	return c*math.Pow(hi, -alpha) - c*math.Pow(lo, -alpha)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// Fill evaluates in for every channel of dst. Each of s, wave and dlambda
// holds either a single value, broadcast to all channels, or one value per
// channel.
func Fill(in Integrator, dst []complex128, s []float64, alpha float64, wave, dlambda []float64) error {
	n := len(dst)
	for _, l := range []int{len(s), len(wave), len(dlambda)} {
		if l != 1 && l != n {
			return fiterr.Mismatch("spectral.Fill", "input of length %d for %d channels", l, n)
		}
	}
	for i := range dst {
		dst[i] = in.Integrate(at(s, i), alpha, at(wave, i), at(dlambda, i))
	}
	return nil
}

func at(x []float64, i int) float64 {
	if len(x) == 1 {
		return x[0]
	}
	return x[i]
}

// IndVisibility evaluates the strategy selected by mode on every channel.
// The channel count is the longest of s, wave and dlambda.
func IndVisibility(mode Mode, s []float64, alpha float64, wave, dlambda []float64) ([]complex128, error) {
	in, err := New(mode)
	if err != nil {
		return nil, err
	}
	n := max(len(s), len(wave), len(dlambda))
	out := make([]complex128, n)
	if err := Fill(in, out, s, alpha, wave, dlambda); err != nil {
		return nil, err
	}
	return out, nil
}
