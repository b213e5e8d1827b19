// Package spectral computes the bandpass-integrated complex visibility of a
// power-law point source in one spectral channel.
//
// All strategies approximate
//
//	V(s, α, λ₀, Δλ) = ∫ (λ/λref)^(-1-α) · exp(-2πi·s/λ) dλ  over [λ₀-Δλ, λ₀+Δλ]
//
// where s is the optical path difference in micrometers and λref = 2.2 µm.
package spectral

import (
	"strings"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// RefWavelength is the reference wavelength of the power law in micrometers.
const RefWavelength = 2.2

// Mode selects an integration strategy.
type Mode int

// Integration strategies.
const (
	// Approx is the closed-form sinc approximation.
	Approx Mode = iota
	// Analytic is the exact incomplete-gamma solution.
	Analytic
	// Numeric is trapezoidal quadrature on log-spaced nodes.
	Numeric
	// Monochromatic ignores bandwidth smearing of the phase.
	Monochromatic
)

var modeNames = map[Mode]string{
	Approx:        "approx",
	Analytic:      "analytic",
	Numeric:       "numeric",
	Monochromatic: "monochromatic",
}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMode parses a configuration mode string.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return Approx, fiterr.Invalid("spectral.ParseMode", "mode %q must be one of approx, analytic, numeric, monochromatic", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fiterr.Invalid("spectral.Mode.MarshalText", "unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
