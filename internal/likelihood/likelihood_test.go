package likelihood

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/params"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
)

var truth = []model.Source{{RA: 5, DEC: -3, FluxRatio: 0.1}}

func template(nch int) *observation.Bundle {
	b := &observation.Bundle{
		Telescope:    "UT",
		Resolution:   "LOW",
		Polarization: "COMBINED",
		Wave:         make([]float64, nch),
	}
	for ch := range b.Wave {
		b.Wave[ch] = 2.0 + 0.4*float64(ch)/float64(nch-1)
	}
	va := observation.Block{Value: make([]observation.Row, 6)}
	for i := range va.Value {
		va.Value[i] = make(observation.Row, nch)
	}
	b.Pols = []observation.Dataset{{
		U:      []float64{-60.2, 24.5, -11.8, 84.7, 48.4, -36.3},
		V:      []float64{12.4, 71.9, 96.0, 59.5, 83.6, 24.1},
		VisAmp: va,
	}}
	return b
}

type fixture struct {
	model  *model.Model
	layout *params.Layout
	smp    *model.Sampling
	unit   *observation.Unit
}

func newFixture(t *testing.T, flags model.FitFlags, nch int) *fixture {
	t.Helper()
	m, err := model.New(model.Options{Mode: spectral.Approx, NumSources: 1, StarAlpha: model.DefaultStarAlpha}, nil)
	require.NoError(t, err)
	if flags.Initial == nil {
		flags.Initial = map[string]float64{"f BG": 0}
	}
	layout, err := model.BuildLayout(truth, flags)
	require.NoError(t, err)

	sim, err := model.Simulate(m, layout.Initial(), template(nch), model.SimulateOptions{})
	require.NoError(t, err)
	units, err := sim.Units(0)
	require.NoError(t, err)
	u := &units[0]
	observation.Prepare(u, observation.PrepareOptions{FlagTill: 0, FlagFrom: nch})
	smp, err := model.NewSampling(sim, u)
	require.NoError(t, err)
	return &fixture{model: m, layout: layout, smp: smp, unit: u}
}

func (f *fixture) target(t *testing.T, w Weights) *Target {
	t.Helper()
	tg, err := New(f.model, f.layout, f.smp, f.unit, w)
	require.NoError(t, err)
	return tg
}

func TestLogLikeAtTruth(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 14)
	tg := f.target(t, Weights{1, 1, 1, 1, 1})
	ll, err := tg.LogLike(f.layout.Initial())
	require.NoError(t, err)
	assert.Equal(t, 0.0, ll)
	assert.Equal(t, 0.0, tg.LogProb(f.layout.InitialFree()))
	assert.Equal(t, 5, tg.Dim())
}

func TestLogLikeDecreasesAwayFromTruth(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 14)
	tg := f.target(t, DefaultWeights())
	base := f.layout.InitialFree()
	lower, _ := f.layout.Bounds()

	for i, name := range f.layout.FreeNames() {
		for _, step := range []float64{-0.05, 0.05} {
			p := append([]float64(nil), base...)
			p[i] += step
			if p[i] < lower[i] {
				continue
			}
			lp := tg.LogProb(p)
			assert.Less(t, lp, 0.0, "%s %+g", name, step)
			assert.False(t, math.IsInf(lp, -1), "%s %+g", name, step)
		}
	}
}

func TestBoxPrior(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 8)
	tg := f.target(t, DefaultWeights())
	p := f.layout.InitialFree()
	p[4] = -0.1
	assert.True(t, math.IsInf(tg.LogProb(p), -1))
	assert.False(t, tg.InBounds(p))

	assert.True(t, math.IsInf(tg.LogProb([]float64{1, 2}), -1))
}

func TestFlaggedChannelDoesNotContribute(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 10)
	for k := observation.Kind(0); k < observation.NumKinds; k++ {
		blk := f.unit.Blocks[k]
		for row := range blk.Value {
			blk.Value[row][4] = 0.77
			blk.Flag[row][4] = true
		}
	}
	tg := f.target(t, Weights{1, 1, 1, 1, 1})
	ll, err := tg.LogLike(f.layout.Initial())
	require.NoError(t, err)
	assert.Equal(t, 0.0, ll)

	f.unit.Blocks[observation.Vis2].Flag[2][4] = false
	ll, err = tg.LogLike(f.layout.Initial())
	require.NoError(t, err)
	assert.Less(t, ll, 0.0)
}

func TestPhaseResidualWraps(t *testing.T) {
	data := observation.Block{
		Value: []observation.Row{{179}},
		Error: []observation.Row{{1}},
	}
	got := chi2(observation.VisPhi, data, [][]float64{{-179}})
	chord := 360 / math.Pi * math.Sin(2*math.Pi/360)
	assert.InDelta(t, chord*chord, got, 1e-9)
	assert.InDelta(t, 4, got, 1e-3)

	// Opposite phases cost the full chord, not 180 degrees.
	got = chi2(observation.VisPhi, data, [][]float64{{-1}})
	assert.InDelta(t, math.Pow(360/math.Pi, 2), got, 1e-6)
	got = chi2(observation.VisAmp, observation.Block{Value: data.Value, Error: data.Error}, [][]float64{{177}})
	assert.InDelta(t, 4, got, 1e-9)
}

func TestZeroWeightNeedsNoData(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 6)
	f.unit.Blocks[observation.ClosureAmp] = observation.Block{}
	f.unit.Blocks[observation.VisPhi].Error = nil

	_, err := New(f.model, f.layout, f.smp, f.unit, DefaultWeights())
	require.NoError(t, err)

	tests := []struct {
		name    string
		weights Weights
		smp     *model.Sampling
		wantErr error
	}{
		{"weighted missing block", Weights{1, 0, 0, 0, 1}, f.smp, fiterr.ErrInvalidConfiguration},
		{"weighted missing errors", Weights{0, 0, 0, 1, 0}, f.smp, fiterr.ErrInvalidConfiguration},
		{"negative weight", Weights{-1, 0, 0, 0, 0}, f.smp, fiterr.ErrInvalidConfiguration},
		{"channel mismatch", DefaultWeights(), &model.Sampling{Wave: make([]float64, 3)}, fiterr.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(f.model, f.layout, tt.smp, f.unit, tt.weights)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReducedChi2(t *testing.T) {
	f := newFixture(t, model.FitFlags{}, 14)
	tg := f.target(t, DefaultWeights())
	full := f.layout.Initial()

	red, err := tg.ReducedChi2(full)
	require.NoError(t, err)
	assert.Equal(t, 0.0, red[observation.VisAmp])
	assert.True(t, math.IsNaN(red[observation.VisPhi]))

	full[f.layout.Index("f BG")] = 0.2
	terms, _, err := tg.Chi2(full)
	require.NoError(t, err)
	red, err = tg.ReducedChi2(full)
	require.NoError(t, err)
	assert.InDelta(t, terms[observation.Vis2]/float64(6*14-5), red[observation.Vis2], 1e-12)
}

func TestCoherencePrior(t *testing.T) {
	f := newFixture(t, model.FitFlags{FitCoherenceLoss: true}, 8)
	tg := f.target(t, DefaultWeights())
	norm := -math.Log(CoherencePriorWidth * math.Sqrt(2*math.Pi))
	assert.InDelta(t, 6*norm, tg.LogProb(f.layout.InitialFree()), 1e-9)

	coh := -1
	for i, name := range f.layout.FreeNames() {
		if name == "coh1" {
			coh = i
		}
	}
	require.GreaterOrEqual(t, coh, 0)

	// One width away from 1 the prior drops by exactly one half.
	for _, x := range []float64{1.05, 0.95} {
		reduced := f.layout.InitialFree()
		reduced[coh] = x
		ll, err := tg.LogLike(mustExpand(t, f.layout, reduced))
		require.NoError(t, err)
		prior := tg.LogProb(reduced) - ll
		assert.InDelta(t, 6*norm-0.5, prior, 1e-9, "coh1=%g", x)
	}
}

func TestOutsidePhaseMap(t *testing.T) {
	const nch, size = 5, 5
	n := nch * interferometer.NumTelescopes * size * size
	coupling := make([]complex128, n)
	denom := make([]float64, n)
	for i := range coupling {
		coupling[i], denom[i] = 1, 1
	}
	grid, err := phasemap.NewGrid(nch, size, coupling, denom)
	require.NoError(t, err)
	corr, err := phasemap.NewCorrector(grid, phasemap.Geometry{Interpolate: true}, nch)
	require.NoError(t, err)

	f := newFixture(t, model.FitFlags{}, nch)
	mapped, err := model.New(f.model.Options(), corr)
	require.NoError(t, err)
	tg, err := New(mapped, f.layout, f.smp, f.unit, DefaultWeights())
	require.NoError(t, err)

	p := f.layout.InitialFree()
	p[0] = 9
	ll, err := tg.LogLike(mustExpand(t, f.layout, p))
	require.NoError(t, err)
	assert.True(t, math.IsInf(ll, -1))
	assert.True(t, math.IsInf(tg.LogProb(p), -1))
}

func mustExpand(t *testing.T, l *params.Layout, reduced []float64) []float64 {
	t.Helper()
	full, err := l.Expand(reduced)
	require.NoError(t, err)
	return full
}
