package spectral

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAlphas      = []float64{-2, -0.5, 0, 1, 3, 5}
	testWaves       = []float64{2.0, 2.2, 2.4}
	testFractions   = []float64{0.01, 0.03, 0.045}
	testOffsetsNear = []float64{0.5, -0.5, 1, -2, 3, 5, 8, -8}
)

func relErr(got, want complex128) float64 {
	return cmplx.Abs(got-want) / cmplx.Abs(want)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"approx", Approx},
		{"analytic", Analytic},
		{" Numeric ", Numeric},
		{"monochromatic", Monochromatic},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)

			text, err := m.MarshalText()
			require.NoError(t, err)
			var back Mode
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, m, back)
		})
	}

	_, err := ParseMode("exact")
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)

	var m Mode
	assert.ErrorIs(t, m.UnmarshalText([]byte("fast")), fiterr.ErrInvalidConfiguration)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Mode(42))
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)

	_, err = IndVisibility(Mode(-1), []float64{1}, 0, []float64{2.2}, []float64{0.05})
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
}

func TestAnalyticMatchesNumeric(t *testing.T) {
	analytic := AnalyticIntegrator{}
	numeric := NumericIntegrator{Nodes: DefaultNodes}

	for _, s := range testOffsetsNear {
		for _, alpha := range testAlphas {
			for _, wave := range testWaves {
				for _, f := range testFractions {
					dl := wave * f
					a := analytic.Integrate(s, alpha, wave, dl)
					n := numeric.Integrate(s, alpha, wave, dl)
					require.Less(t, relErr(n, a), 1e-4, "s=%v alpha=%v wave=%v dl=%v", s, alpha, wave, dl)
				}
			}
		}
	}
}

func TestAnalyticFarOffAxis(t *testing.T) {
	// Large path differences take the continued-fraction branch; compare
	// against a finely sampled quadrature.
	analytic := AnalyticIntegrator{}
	fine := NumericIntegrator{Nodes: 20000}

	for _, s := range []float64{15, -30, 100} {
		for _, alpha := range testAlphas {
			a := analytic.Integrate(s, alpha, 2.2, 0.066)
			n := fine.Integrate(s, alpha, 2.2, 0.066)
			assert.Less(t, relErr(a, n), 1e-6, "s=%v alpha=%v", s, alpha)
		}
	}
}

func TestSeriesAndContinuedFractionAgree(t *testing.T) {
	for _, s := range []float64{1.5, 3, 4} {
		for _, alpha := range testAlphas {
			hi, lo := 2.25, 2.15
			z1 := complex(0, 2*math.Pi*s/hi)
			z2 := complex(0, 2*math.Pi*s/lo)

			series := cmplx.Pow(z1, complex(alpha, 0)) * gammaDiffSeries(alpha, z1, math.Log(hi/lo))
			cf := upperGamma(alpha, z1) - upperGamma(alpha, z2)
			assert.Less(t, relErr(series, cf), 1e-9, "s=%v alpha=%v", s, alpha)
		}
	}
}

func TestApproxCloseToAnalytic(t *testing.T) {
	analytic := AnalyticIntegrator{}
	approx := ApproxIntegrator{}

	cases := 0
	for _, s := range []float64{0.5, -0.5, 1, -2, 3} {
		for _, alpha := range testAlphas {
			for _, wave := range testWaves {
				for _, f := range testFractions {
					if math.Abs(s) >= 3 && f > 0.03 {
						continue
					}
					dl := wave * f
					a := analytic.Integrate(s, alpha, wave, dl)
					p := approx.Integrate(s, alpha, wave, dl)
					require.Less(t, relErr(p, a), 0.05, "s=%v alpha=%v wave=%v dl=%v", s, alpha, wave, dl)

					dphi := math.Abs(cmplx.Phase(p/a)) * 180 / math.Pi
					require.Less(t, dphi, 3.0)
					cases++
				}
			}
		}
	}
	assert.Greater(t, cases, 200)
}

func TestOnAxisModesAgree(t *testing.T) {
	for _, alpha := range testAlphas {
		for _, wave := range testWaves {
			for _, f := range testFractions {
				dl := wave * f
				a := AnalyticIntegrator{}.Integrate(0, alpha, wave, dl)
				n := NumericIntegrator{Nodes: DefaultNodes}.Integrate(0, alpha, wave, dl)
				p := ApproxIntegrator{}.Integrate(0, alpha, wave, dl)

				assert.Zero(t, imag(a))
				assert.Zero(t, imag(n))
				assert.Zero(t, imag(p))
				assert.Greater(t, real(a), 0.0)
				assert.Less(t, relErr(n, a), 1e-4)
				assert.Less(t, relErr(p, a), 0.05)
			}
		}
	}
}

func TestOnAxisZeroAlpha(t *testing.T) {
	// ∫ λref/λ dλ = λref·ln(hi/lo)
	wave, dl := 2.2, 0.05
	want := RefWavelength * math.Log((wave+dl)/(wave-dl))

	got := AnalyticIntegrator{}.Integrate(0, 0, wave, dl)
	assert.InDelta(t, want, real(got), 1e-6*want)
	assert.Zero(t, imag(got))
}

func TestMonochromaticHasNoSmearing(t *testing.T) {
	v := MonochromaticIntegrator{}.Integrate(20, 1, 2.2, 0.1)
	p := ApproxIntegrator{}.Integrate(20, 1, 2.2, 0.1)
	assert.Greater(t, cmplx.Abs(v), cmplx.Abs(p))
	assert.InDelta(t, cmplx.Phase(v), cmplx.Phase(p), 1e-12)
}

func TestIndVisibilityBroadcasts(t *testing.T) {
	wave := []float64{2.0, 2.1, 2.2, 2.3}
	dl := []float64{0.02}

	perChannel, err := IndVisibility(Analytic, []float64{1, 2, 3, 4}, -0.5, wave, dl)
	require.NoError(t, err)
	require.Len(t, perChannel, 4)

	scalar, err := IndVisibility(Analytic, []float64{2}, -0.5, wave, dl)
	require.NoError(t, err)
	require.Len(t, scalar, 4)

	assert.Equal(t, perChannel[1], scalar[1])
	for i, w := range wave {
		assert.Equal(t, AnalyticIntegrator{}.Integrate(2, -0.5, w, 0.02), scalar[i])
	}

	_, err = IndVisibility(Approx, []float64{1, 2}, 0, wave, dl)
	assert.ErrorIs(t, err, fiterr.ErrDimensionMismatch)
}
