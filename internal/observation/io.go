package observation

import (
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// ReadFile loads a bundle from a JSON file.
func ReadFile(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fiterr.Missing("observation.ReadFile", path, err)
		}
		return nil, fiterr.Invalid("observation.ReadFile", "reading %s: %v", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fiterr.Invalid("observation.ReadFile", "decoding %s: %v", path, err)
	}
	return &b, nil
}

// WriteFile stores a bundle as indented JSON.
func WriteFile(path string, b *Bundle) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fiterr.Invalid("observation.WriteFile", "encoding: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fiterr.Invalid("observation.WriteFile", "writing %s: %v", path, err)
	}
	return nil
}

// ChannelWidths returns the half-width of every channel for baseline row.
// Without explicit widths, half of the local channel spacing is used.
func (b *Bundle) ChannelWidths(row int) ([]float64, error) {
	if len(b.DLambda) > 0 {
		return append([]float64(nil), b.DLambda[row]...), nil
	}
	return HalfSpacing(b.Wave)
}

// HalfSpacing returns half the local spacing of a wavelength grid, using
// one-sided differences at the ends and central differences inside.
func HalfSpacing(wave []float64) ([]float64, error) {
	n := len(wave)
	if n < 2 {
		return nil, fiterr.Invalid("observation.HalfSpacing", "need explicit channel widths for %d channel(s)", n)
	}
	out := make([]float64, n)
	for i := range wave {
		var d float64
		switch i {
		case 0:
			d = wave[1] - wave[0]
		case n - 1:
			d = wave[n-1] - wave[n-2]
		default:
			d = (wave[i+1] - wave[i-1]) / 2
		}
		out[i] = math.Abs(d) / 2
	}
	return out, nil
}
