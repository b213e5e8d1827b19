package phasemap

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"gonum.org/v1/gonum/mat"
)

const numTel = interferometer.NumTelescopes

// Geometry describes how sky offsets land on the map of each telescope.
type Geometry struct {
	// NorthAngle per telescope in radians.
	NorthAngle [numTel]float64
	// DRA and DDEC are the metrology offsets of the science fiber in mas.
	DRA  [numTel]float64
	DDEC [numTel]float64
	// Telescope selects the UT or AT position scale.
	Telescope interferometer.TelescopeClass
	// PixelOffset is a static correction added to the scaled sky position.
	PixelOffset [2]float64
	// Interpolate selects quad-linear lookup instead of nearest pixel.
	Interpolate bool
}

// Zeroed returns a copy of g with north angles and metrology offsets reset,
// as used when the maps were simulated in the pupil frame.
func (g Geometry) Zeroed() Geometry {
	g.NorthAngle = [numTel]float64{}
	g.DRA = [numTel]float64{}
	g.DDEC = [numTel]float64{}
	return g
}

// Coupling holds per-telescope, per-channel lookup results.
type Coupling struct {
	Amp       [numTel][]float64
	Phase     [numTel][]float64
	Intensity [numTel][]float64
}

// NewCoupling allocates a Coupling for channels spectral channels.
func NewCoupling(channels int) *Coupling {
	c := &Coupling{}
	for tel := 0; tel < numTel; tel++ {
		c.Amp[tel] = make([]float64, channels)
		c.Phase[tel] = make([]float64, channels)
		c.Intensity[tel] = make([]float64, channels)
	}
	return c
}

// Unity returns a Coupling with unit amplitude and intensity and zero
// phase, the value used when phase maps are disabled.
func Unity(channels int) *Coupling {
	c := NewCoupling(channels)
	for tel := 0; tel < numTel; tel++ {
		for i := 0; i < channels; i++ {
			c.Amp[tel][i] = 1
			c.Intensity[tel][i] = 1
		}
	}
	return c
}

// BaselinePair is the coupling of the two telescopes of one baseline.
type BaselinePair struct {
	Amp       [2][]float64
	Phase     [2][]float64
	Intensity [2][]float64
}

// Baselines combines the telescopes into the six baseline pairs. The
// returned slices alias c.
func (c *Coupling) Baselines() [interferometer.NumBaselines]BaselinePair {
	var out [interferometer.NumBaselines]BaselinePair
	for i, tels := range interferometer.BaselineTelescopes {
		for k, tel := range tels {
			out[i].Amp[k] = c.Amp[tel]
			out[i].Phase[k] = c.Phase[tel]
			out[i].Intensity[k] = c.Intensity[tel]
		}
	}
	return out
}

// Corrector looks up coupling corrections for sky positions.
type Corrector struct {
	grid     *Grid
	geo      Geometry
	channels int
	rot      [numTel]*mat.Dense
}

// NewCorrector binds grid to an observation geometry with the given number
// of spectral channels.
func NewCorrector(grid *Grid, geo Geometry, channels int) (*Corrector, error) {
	if grid == nil {
		return nil, fiterr.Invalid("phasemap.NewCorrector", "grid is required")
	}
	if grid.Channels() != channels {
		return nil, fiterr.Mismatch("phasemap.NewCorrector",
			"phase map has %d channels, data has %d", grid.Channels(), channels)
	}
	c := &Corrector{grid: grid, geo: geo, channels: channels}
	for tel := 0; tel < numTel; tel++ {
		sin, cos := math.Sincos(geo.NorthAngle[tel])
		c.rot[tel] = mat.NewDense(2, 2, []float64{
			cos, sin,
			-sin, cos,
		})
	}
	return c, nil
}

// Channels returns the number of spectral channels.
func (c *Corrector) Channels() int { return c.channels }

// PixelPosition returns the rotated map position (ra axis, dec axis) of a
// sky offset for telescope tel.
func (c *Corrector) PixelPosition(ra, dec float64, tel int) (float64, float64) {
	scale := c.geo.Telescope.PositionScale()
	pos := mat.NewVecDense(2, []float64{
		(ra+c.geo.DRA[tel])/scale + c.geo.PixelOffset[0],
		(dec+c.geo.DDEC[tel])/scale + c.geo.PixelOffset[1],
	})
	var rot mat.VecDense
	rot.MulVec(c.rot[tel], pos)
	center := c.grid.Center()
	return rot.AtVec(0) + center, rot.AtVec(1) + center
}

// Lookup fills dst with the coupling of all telescopes at sky offset
// (ra, dec) in mas. The map x axis carries the rotated DEC coordinate and
// the y axis the rotated RA coordinate.
func (c *Corrector) Lookup(ra, dec float64, dst *Coupling) error {
	for tel := 0; tel < numTel; tel++ {
		pr, pd := c.PixelPosition(ra, dec, tel)
		for ch := 0; ch < c.channels; ch++ {
			amp, pha, inten, err := c.grid.SampleAll(ch, tel, pd, pr, c.geo.Interpolate)
			if err != nil {
				return fmt.Errorf("telescope %d at (%.3f, %.3f) mas: %w", tel, ra, dec, err)
			}
			dst.Amp[tel][ch] = amp
			dst.Phase[tel][ch] = pha
			dst.Intensity[tel][ch] = inten
		}
	}
	return nil
}
