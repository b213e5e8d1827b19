package spectral

import (
	"math"
	"math/cmplx"
)

const (
	// seriesLimit is the largest |2πs/λ| handled by the power series.
	// Above it the series cancels catastrophically and the continued
	// fraction is used instead.
	seriesLimit = 12.0

	seriesTerms = 200
	cfMaxIter   = 5000
	cfEpsilon   = 1e-15
	cfTiny      = 1e-300
)

// AnalyticIntegrator evaluates the integral in closed form through the
// incomplete gamma function. The antiderivative is
//
//	F(λ) = λref^(1+α) · (2πis)^(-α) · Γ(α, 2πis/λ)
//
// and the channel value is F(λ₀+Δλ) - F(λ₀-Δλ).
type AnalyticIntegrator struct{}

// Integrate implements Integrator.
func (AnalyticIntegrator) Integrate(s, alpha, wave, dlambda float64) complex128 {
	lo, hi := wave-dlambda, wave+dlambda
	if s == 0 {
		if alpha == 0 {
			return NumericIntegrator{Nodes: DefaultNodes}.Integrate(0, 0, wave, dlambda)
		}
		return complex(onAxis(alpha, lo, hi), 0)
	}

	scale := math.Pow(RefWavelength, 1+alpha)
	z1 := complex(0, 2*math.Pi*s/hi)
	if 2*math.Pi*math.Abs(s)/lo <= seriesLimit {
		return complex(scale*math.Pow(hi, -alpha), 0) * gammaDiffSeries(alpha, z1, math.Log(hi/lo))
	}

	z2 := complex(0, 2*math.Pi*s/lo)
	pre := complex(scale, 0) * cmplx.Pow(complex(0, 2*math.Pi*s), complex(-alpha, 0))
	return pre * (upperGamma(alpha, z1) - upperGamma(alpha, z2))
}

// gammaDiffSeries returns z1^(-a) · (Γ(a, z1) - Γ(a, z2)) for z2 = z1·e^L
// with real L. Each lower-gamma series term differs between the edges by
// the factor expm1((a+k)L)/(a+k), which stays finite at the poles a+k = 0.
func gammaDiffSeries(a float64, z1 complex128, L float64) complex128 {
	var sum complex128
	term := complex(1, 0) // (-z1)^k / k!
	for k := 0; k < seriesTerms; k++ {
		c := term * complex(expm1Ratio(a+float64(k), L), 0)
		sum += c
		if k > 2 && cmplx.Abs(c) <= 1e-17*cmplx.Abs(sum) && cmplx.Abs(term) < 1 {
			break
		}
		term *= -z1 / complex(float64(k+1), 0)
	}
	return sum
}

// expm1Ratio returns (e^(pL) - 1)/p, continuous at p = 0.
func expm1Ratio(p, L float64) float64 {
	if p == 0 {
		return L
	}
	return math.Expm1(p*L) / p
}

// upperGamma evaluates Γ(a, z) with Legendre's continued fraction using the
// modified Lentz method. Valid away from the negative real axis.
func upperGamma(a float64, z complex128) complex128 {
	tiny := complex(cfTiny, 0)
	b := z + complex(1-a, 0)
	c := complex(1/cfTiny, 0)
	d := 1 / b
	h := d
	for i := 1; i <= cfMaxIter; i++ {
		fi := float64(i)
		an := complex(-fi*(fi-a), 0)
		b += 2
		d = an*d + b
		if cmplx.Abs(d) < cfTiny {
			d = tiny
		}
		c = b + an/c
		if cmplx.Abs(c) < cfTiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if cmplx.Abs(del-1) < cfEpsilon {
			break
		}
	}
	return cmplx.Exp(-z+complex(a, 0)*cmplx.Log(z)) * h
}
