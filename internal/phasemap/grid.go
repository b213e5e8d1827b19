// Package phasemap converts sky positions into per-telescope fiber-coupling
// corrections using precomputed phase maps.
//
// A phase map is a 4-D table indexed by (spectral channel, telescope, x, y)
// holding the normalized coupling amplitude, the coupling phase in degrees
// and the normalized coupling intensity. Grids are read-only after
// construction and safe to share between goroutines.
package phasemap

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"gonum.org/v1/gonum/floats"
)

// ErrOutsideGrid is returned when a lookup position falls outside the map.
var ErrOutsideGrid = errors.New("position outside phase map")

// Field selects one of the three maps of a Grid.
type Field int

// Grid fields.
const (
	Amplitude Field = iota
	Phase
	Intensity
)

// Grid holds the three maps on a square pixel grid.
type Grid struct {
	channels int
	size     int
	amp      []float64
	pha      []float64
	inten    []float64
}

// NewGrid builds a grid from raw complex coupling values and the real
// intensity denominator, both laid out as [channel][telescope][x][y].
// Amplitude and intensity are normalized per (channel, telescope) to their
// maximum.
func NewGrid(channels, size int, coupling []complex128, denom []float64) (*Grid, error) {
	n := channels * interferometer.NumTelescopes * size * size
	if channels <= 0 || size <= 0 {
		return nil, fiterr.Invalid("phasemap.NewGrid", "channels=%d size=%d", channels, size)
	}
	if len(coupling) != n || len(denom) != n {
		return nil, fiterr.Mismatch("phasemap.NewGrid", "expected %d pixels, got coupling=%d denom=%d", n, len(coupling), len(denom))
	}

	g := &Grid{
		channels: channels,
		size:     size,
		amp:      make([]float64, n),
		pha:      make([]float64, n),
		inten:    make([]float64, n),
	}
	for i, c := range coupling {
		g.amp[i] = cmplx.Abs(c)
		g.pha[i] = cmplx.Phase(c) * 180 / math.Pi
	}
	copy(g.inten, denom)

	plane := size * size
	for off := 0; off < n; off += plane {
		normalize(g.amp[off : off+plane])
		normalize(g.inten[off : off+plane])
	}
	return g, nil
}

func normalize(x []float64) {
	m := floats.Max(x)
	if m != 0 {
		floats.Scale(1/m, x)
	}
}

// Channels returns the number of spectral channels.
func (g *Grid) Channels() int { return g.channels }

// Size returns the pixel count along each spatial axis.
func (g *Grid) Size() int { return g.size }

// Center returns the pixel coordinate of the field center.
func (g *Grid) Center() float64 { return float64(g.size-1) / 2 }

func (g *Grid) data(f Field) []float64 {
	switch f {
	case Phase:
		return g.pha
	case Intensity:
		return g.inten
	}
	return g.amp
}

func (g *Grid) shape() [4]int {
	return [4]int{g.channels, interferometer.NumTelescopes, g.size, g.size}
}

// Sample returns field f at (channel, tel, x, y). With interpolate set the
// value is quad-linear over the four axes, otherwise the nearest pixel.
func (g *Grid) Sample(f Field, channel, tel int, x, y float64, interpolate bool) (float64, error) {
	st, err := g.locate(channel, tel, x, y, interpolate)
	if err != nil {
		return math.NaN(), err
	}
	return st.apply(g.data(f)), nil
}

// SampleAll returns amplitude, phase and intensity at (channel, tel, x, y)
// from a single bounds check.
func (g *Grid) SampleAll(channel, tel int, x, y float64, interpolate bool) (amp, pha, inten float64, err error) {
	st, err := g.locate(channel, tel, x, y, interpolate)
	if err != nil {
		return math.NaN(), math.NaN(), math.NaN(), err
	}
	return st.apply(g.amp), st.apply(g.pha), st.apply(g.inten), nil
}

func (g *Grid) locate(channel, tel int, x, y float64, interpolate bool) (stencil, error) {
	pt := [4]float64{float64(channel), float64(tel), x, y}
	if interpolate {
		return multilinearStencil(g.shape(), pt)
	}
	return nearestStencil(g.shape(), pt)
}

// stencil holds the flat indices and weights of the pixels contributing to
// one sample.
type stencil struct {
	idx [16]int
	w   [16]float64
	n   int
}

func (s *stencil) add(idx int, w float64) {
	s.idx[s.n] = idx
	s.w[s.n] = w
	s.n++
}

func (s stencil) apply(data []float64) float64 {
	var sum float64
	for i := 0; i < s.n; i++ {
		sum += s.w[i] * data[s.idx[i]]
	}
	return sum
}

// multilinear interpolates on a regular unit-spaced 4-D grid.
func multilinear(data []float64, shape [4]int, pt [4]float64) (float64, error) {
	st, err := multilinearStencil(shape, pt)
	if err != nil {
		return math.NaN(), err
	}
	return st.apply(data), nil
}

func multilinearStencil(shape [4]int, pt [4]float64) (stencil, error) {
	var st stencil
	var lo [4]int
	var frac [4]float64
	for d := 0; d < 4; d++ {
		p := pt[d]
		if math.IsNaN(p) || p < 0 || p > float64(shape[d]-1) {
			return st, ErrOutsideGrid
		}
		i := int(math.Floor(p))
		if i == shape[d]-1 && i > 0 {
			i--
		}
		lo[d] = i
		frac[d] = p - float64(i)
	}

	for corner := 0; corner < 16; corner++ {
		w := 1.0
		idx := 0
		for d := 0; d < 4; d++ {
			i := lo[d]
			if corner&(1<<d) != 0 {
				w *= frac[d]
				i++
			} else {
				w *= 1 - frac[d]
			}
			if w == 0 {
				break
			}
			idx = idx*shape[d] + i
		}
		if w == 0 {
			continue
		}
		st.add(idx, w)
	}
	return st, nil
}

func nearestStencil(shape [4]int, pt [4]float64) (stencil, error) {
	var st stencil
	idx := 0
	for d := 0; d < 4; d++ {
		i := int(math.Round(pt[d]))
		if math.IsNaN(pt[d]) || i < 0 || i >= shape[d] {
			return st, ErrOutsideGrid
		}
		idx = idx*shape[d] + i
	}
	st.add(idx, 1)
	return st, nil
}
