package interferometer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPhase(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{540, 180},
		{-539, -179},
		{359.5, -0.5},
		{720, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, WrapPhase(tt.in), 1e-9, "WrapPhase(%v)", tt.in)
	}
	assert.True(t, math.IsNaN(WrapPhase(math.NaN())))
}

func TestWrapPhaseInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10000; i++ {
		x := (rng.Float64() - 0.5) * 4000
		w := WrapPhase(x)
		require.Greater(t, w, -180.0)
		require.LessOrEqual(t, w, 180.0)

		k := (x - w) / 360
		require.InDelta(t, math.Round(k), k, 1e-9, "x=%v w=%v", x, w)
	}
}

func TestCircularDistance(t *testing.T) {
	chord := func(deg float64) float64 { return 360 / math.Pi * math.Sin(deg*math.Pi/360) }
	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"equal", 42, 42, 0},
		{"small", 10, 0, 9.987312},
		{"quarter turn", 90, 0, 81.028468},
		{"opposite", 180, 0, 114.591559},
		{"opposite across wrap", 90, -90, 114.591559},
		{"across wrap", 179, -179, chord(2)},
		{"full turn", -180, 180, 0},
		{"wrapped input", 0.5, 359.5, chord(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CircularDistance(tt.a, tt.b), 1e-6)
			assert.InDelta(t, tt.want, CircularDistance(tt.b, tt.a), 1e-6)
		})
	}

	// The chord never exceeds the arc and approaches it for small angles.
	for d := 0.0; d <= 180; d += 7.5 {
		assert.LessOrEqual(t, CircularDistance(d, 0), d+1e-9)
	}
	assert.InDelta(t, 0.01, CircularDistance(0.01, 0), 1e-9)
}

func TestClosureTableIsConsistent(t *testing.T) {
	for tri, bl := range ClosureBaselines {
		a, b := BaselineTelescopes[bl[0]], BaselineTelescopes[bl[1]]
		c := BaselineTelescopes[bl[2]]

		// (i,j) + (j,k) - (i,k) closes the loop.
		assert.Equal(t, a[1], b[0], "triangle %d", tri)
		assert.Equal(t, a[0], c[0], "triangle %d", tri)
		assert.Equal(t, b[1], c[1], "triangle %d", tri)
	}
}

func TestPhaseTerm(t *testing.T) {
	// 1 mas on a 100 m baseline is about 0.485 micron of path.
	assert.InDelta(t, 100*MasToRad*1e6, PhaseTerm(1, 0, 100, 0), 1e-12)
	assert.InDelta(t, 0.0, PhaseTerm(1, 1, 50, -50), 1e-12)
}

func TestParseTelescope(t *testing.T) {
	c, err := ParseTelescope("ESO-VLTI-U1234")
	require.NoError(t, err)
	assert.Equal(t, UT, c)
	assert.Equal(t, 1.0, c.PositionScale())

	c, err = ParseTelescope("ESO-VLTI-A1234")
	require.NoError(t, err)
	assert.Equal(t, AT, c)
	assert.Equal(t, "AT", c.String())
	assert.Equal(t, ATPositionScale, c.PositionScale())

	_, err = ParseTelescope("ESO-VLTI-X")
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
}

func TestParsePolarizationMode(t *testing.T) {
	m, err := ParsePolarizationMode("SPLIT")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Polarizations())

	m, err = ParsePolarizationMode("combined")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Polarizations())
	assert.Equal(t, "COMBINED", m.String())

	_, err = ParsePolarizationMode("DUAL")
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
}
