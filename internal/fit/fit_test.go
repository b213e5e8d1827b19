package fit

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/gravfit/internal/ensemble"
	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/logging"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
	"github.com/fyrsmithlabs/gravfit/internal/spectral"
	"github.com/fyrsmithlabs/gravfit/internal/telemetry"
)

var truth = []model.Source{{RA: 5, DEC: -3, FluxRatio: 0.1}}

var (
	testU = []float64{-60.2, 24.5, -11.8, 84.7, 48.4, -36.3}
	testV = []float64{12.4, 71.9, 96.0, 59.5, 83.6, 24.1}
)

// simulated returns noiseless data for the truth companion with zero
// background.
func simulated(t *testing.T, polarization string, nch int) *observation.Bundle {
	t.Helper()
	tmpl := &observation.Bundle{
		Telescope:    "ESO-VLTI-U1234",
		Resolution:   "LOW",
		Polarization: polarization,
		Wave:         make([]float64, nch),
	}
	for ch := range tmpl.Wave {
		tmpl.Wave[ch] = 2.0 + 0.4*float64(ch)/float64(max(nch-1, 1))
	}
	mode, err := interferometer.ParsePolarizationMode(polarization)
	require.NoError(t, err)
	for p := 0; p < mode.Polarizations(); p++ {
		va := observation.Block{Value: make([]observation.Row, interferometer.NumBaselines)}
		for i := range va.Value {
			va.Value[i] = make(observation.Row, nch)
		}
		tmpl.Pols = append(tmpl.Pols, observation.Dataset{U: testU, V: testV, VisAmp: va})
	}

	m, err := model.New(model.Options{Mode: spectral.Approx, NumSources: 1, StarAlpha: model.DefaultStarAlpha}, nil)
	require.NoError(t, err)
	layout, err := model.BuildLayout(truth, model.FitFlags{Initial: map[string]float64{"f BG": 0}})
	require.NoError(t, err)
	sim, err := model.Simulate(m, layout.Initial(), tmpl, model.SimulateOptions{})
	require.NoError(t, err)
	return sim
}

func testOptions(nch int) Options {
	o := DefaultOptions()
	o.Sources = truth
	o.Flags = model.FitFlags{Initial: map[string]float64{"f BG": 0}}
	o.Walkers = 32
	o.Steps = 400
	o.Threads = 2
	o.Seed = 7
	o.Prepare = observation.PrepareOptions{FlagTill: 0, FlagFrom: nch}
	return o
}

func TestRunRecoversCompanion(t *testing.T) {
	const nch = 8
	b := simulated(t, "COMBINED", nch)

	o := testOptions(nch)
	o.Sources = []model.Source{{RA: 5.05, DEC: -2.95, FluxRatio: 0.11}}
	d, err := NewDriver(o)
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, rep.Units, 1)
	assert.Equal(t, []string{"dRA1", "dDEC1", "fr1", "alpha BH", "f BG"}, rep.FreeNames)
	assert.NotEmpty(t, rep.RunID)

	res := rep.Units[0]
	require.False(t, res.Skipped)
	assert.Equal(t, 400, res.Steps)
	assert.Equal(t, 200, res.Discarded)
	assert.Equal(t, 5, res.Dof)
	assert.InDelta(t, 5.0, res.Median[0], 0.1)
	assert.InDelta(t, -3.0, res.Median[1], 0.1)
	assert.InDelta(t, 0.1, math.Pow(10, res.Median[2]), 0.01)
	assert.Greater(t, float64(res.Acceptance), 0.05)

	for i := range res.Median {
		assert.LessOrEqual(t, res.Lower[i], res.Median[i])
		assert.GreaterOrEqual(t, res.Upper[i], res.Median[i])
	}
	// Fixed alpha BG carries its fixed value through every summary.
	assert.Equal(t, model.DefaultAlphaBG, res.Median[5])
	assert.Equal(t, model.DefaultAlphaBG, res.Lower[5])
	assert.Equal(t, res.Median, res.Reported)
	require.NotNil(t, res.Model)
	assert.Len(t, res.Model.Wave, nch)
	assert.Len(t, res.Model.Closure, interferometer.NumTriangles)
}

func TestRunBestChi2Reporting(t *testing.T) {
	const nch = 6
	o := testOptions(nch)
	o.Steps = 50
	o.BestChi2 = true
	o.Oversample = 20
	d, err := NewDriver(o)
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), simulated(t, "COMBINED", nch))
	require.NoError(t, err)
	res := rep.Units[0]
	assert.Equal(t, res.Best, res.Reported)
	assert.Equal(t, 0, res.Discarded)
	require.NotNil(t, res.Model)
	assert.Len(t, res.Model.Wave, 20)
	assert.Len(t, res.Model.VisAmp[0], 20)
}

func TestRunSkipsDegenerateUnit(t *testing.T) {
	const nch = 6
	b := simulated(t, "SPLIT", nch)
	for ch := range b.Pols[1].VisAmp.Value[2] {
		b.Pols[1].VisAmp.Value[2][ch] = math.NaN()
	}

	logger := logging.NewTestLogger()
	o := testOptions(nch)
	o.NoFit = true
	d, err := NewDriver(o, WithLogger(logger.Logger))
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, rep.Units, 2)

	fitted, skipped := rep.Units[0], rep.Units[1]
	assert.False(t, fitted.Skipped)
	assert.InDelta(t, 0, fitted.Chi2[observation.VisAmp], 1e-12)

	assert.True(t, skipped.Skipped)
	assert.Equal(t, 1, skipped.Polarization)
	assert.Contains(t, skipped.Reason, "visamp row 2")
	for _, v := range skipped.Median {
		assert.True(t, math.IsNaN(v))
	}
	assert.True(t, math.IsNaN(skipped.ReducedChi2[observation.ClosurePhase]))
	logger.AssertLogged(t, zapcore.WarnLevel, "skipping degenerate unit")
	logger.AssertHasField(t, "skipping degenerate unit", "fit.run_id")

	// NaN summaries still encode.
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"skipped":true`)
}

func TestRunNoFit(t *testing.T) {
	const nch = 6
	tt := telemetry.NewTestTelemetry()
	metrics, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)

	o := testOptions(nch)
	o.NoFit = true
	d, err := NewDriver(o, WithTracer(tt.Tracer(InstrumentationName)), WithMetrics(metrics))
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), simulated(t, "COMBINED", nch))
	require.NoError(t, err)
	res := rep.Units[0]
	assert.Equal(t, 0, res.Steps)
	for k, c := range res.Chi2 {
		assert.InDelta(t, 0, c, 1e-12, "chi2 of %s", observation.Kind(k))
	}
	assert.InDelta(t, 0, float64(res.MaxLogProb), 1e-12)
	assert.True(t, math.IsNaN(float64(res.Acceptance)))

	tt.AssertSpanExists(t, "fit.Run")
	tt.AssertSpanAttribute(t, "fit.unit", "fit.outcome", OutcomeEvaluated)
	tt.AssertSpanAttribute(t, "fit.unit", "fit.polarization", int64(0))
	tt.AssertSpanAttribute(t, "fit.Run", "fit.free_parameters", int64(5))
	units, ok := tt.Int64Sum(context.Background(), "fit.units.total")
	require.True(t, ok)
	assert.Equal(t, int64(1), units)
	active, ok := tt.Int64Sum(context.Background(), "fit.units.active")
	require.True(t, ok)
	assert.Equal(t, int64(0), active)
}

func TestRunWithUniformPhaseMap(t *testing.T) {
	const nch, size = 6, 41
	n := nch * interferometer.NumTelescopes * size * size
	coupling := make([]complex128, n)
	denom := make([]float64, n)
	for i := range coupling {
		coupling[i] = 1
		denom[i] = 1
	}
	grid, err := phasemap.NewGrid(nch, size, coupling, denom)
	require.NoError(t, err)

	o := testOptions(nch)
	o.NoFit = true
	d, err := NewDriver(o, WithPhaseMap(&PhaseMap{Grid: grid, Interpolate: true, Simulated: true}))
	require.NoError(t, err)
	rep, err := d.Run(context.Background(), simulated(t, "COMBINED", nch))
	require.NoError(t, err)
	assert.InDelta(t, 0, rep.Units[0].Chi2[observation.VisAmp], 1e-12)

	o.Oversample = 10
	_, err = NewDriver(o, WithPhaseMap(&PhaseMap{Grid: grid}))
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)

	small, err := phasemap.NewGrid(nch-1, size, coupling[:n-n/nch], denom[:n-n/nch])
	require.NoError(t, err)
	o.Oversample = 0
	d, err = NewDriver(o, WithPhaseMap(&PhaseMap{Grid: small}))
	require.NoError(t, err)
	_, err = d.Run(context.Background(), simulated(t, "COMBINED", nch))
	assert.ErrorIs(t, err, fiterr.ErrDimensionMismatch)
}

func uniformGrid(t *testing.T, nch, size int) *phasemap.Grid {
	t.Helper()
	n := nch * interferometer.NumTelescopes * size * size
	coupling := make([]complex128, n)
	denom := make([]float64, n)
	for i := range coupling {
		coupling[i] = 1
		denom[i] = 1
	}
	grid, err := phasemap.NewGrid(nch, size, coupling, denom)
	require.NoError(t, err)
	return grid
}

func TestRunFreezesPhaseMapCouplings(t *testing.T) {
	const nch = 6
	o := testOptions(nch)
	o.NoFit = true

	// A 7 pixel map covers +-3 mas, so the companion at (5, -3) lies outside.
	grid := uniformGrid(t, nch, 7)

	logger := logging.NewTestLogger()
	d, err := NewDriver(o, WithLogger(logger.Logger), WithPhaseMap(&PhaseMap{Grid: grid, Interpolate: true, Simulated: true}))
	require.NoError(t, err)
	_, err = d.Run(context.Background(), simulated(t, "COMBINED", nch))
	assert.ErrorIs(t, err, phasemap.ErrOutsideGrid)

	logger = logging.NewTestLogger()
	d, err = NewDriver(o, WithLogger(logger.Logger), WithPhaseMap(&PhaseMap{Grid: grid, Interpolate: true, Simulated: true, Fit: true}))
	require.NoError(t, err)
	rep, err := d.Run(context.Background(), simulated(t, "COMBINED", nch))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rep.Units[0].Chi2[observation.VisAmp]))
	logger.AssertField(t, "fit started", "phasemaps_frozen", false)

	// Inside the map the frozen and fitted couplings agree at the start.
	grid = uniformGrid(t, nch, 41)
	for _, fitMaps := range []bool{false, true} {
		logger = logging.NewTestLogger()
		d, err = NewDriver(o, WithLogger(logger.Logger), WithPhaseMap(&PhaseMap{Grid: grid, Interpolate: true, Simulated: true, Fit: fitMaps}))
		require.NoError(t, err)
		rep, err = d.Run(context.Background(), simulated(t, "COMBINED", nch))
		require.NoError(t, err)
		assert.InDelta(t, 0, rep.Units[0].Chi2[observation.VisAmp], 1e-12)
		logger.AssertField(t, "fit started", "phasemaps_frozen", !fitMaps)
	}
}

// singleChannel returns a valid one-channel bundle with explicit widths.
func singleChannel() *observation.Bundle {
	b := &observation.Bundle{
		Telescope:    "ESO-VLTI-U1234",
		Resolution:   "LOW",
		Polarization: "COMBINED",
		Wave:         []float64{2.2},
	}
	va := observation.Block{}
	for i := 0; i < interferometer.NumBaselines; i++ {
		b.DLambda = append(b.DLambda, observation.Row{0.05})
		va.Value = append(va.Value, observation.Row{0.5})
	}
	b.Pols = []observation.Dataset{{U: testU, V: testV, VisAmp: va}}
	return b
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options, *observation.Bundle)
		bundle  func() *observation.Bundle
		wantErr error
	}{
		{
			name:    "phase center with one channel",
			mutate:  func(o *Options, _ *observation.Bundle) { o.Flags.FitPhaseCenter = true },
			bundle:  singleChannel,
			wantErr: fiterr.ErrInvalidConfiguration,
		},
		{
			name: "high resolution without a flag window",
			mutate: func(o *Options, b *observation.Bundle) {
				b.Resolution = "HIGH"
				o.Prepare = observation.PrepareOptions{}
			},
			wantErr: fiterr.ErrInvalidConfiguration,
		},
		{
			name:    "polarization out of range",
			mutate:  func(o *Options, _ *observation.Bundle) { o.Polarization = 1 },
			wantErr: fiterr.ErrInvalidConfiguration,
		},
		{
			name:    "weighted observable missing",
			mutate:  func(_ *Options, b *observation.Bundle) { b.Pols[0].Vis2 = observation.Block{} },
			wantErr: fiterr.ErrInvalidConfiguration,
		},
		{
			name:    "bad fit_pos length",
			mutate:  func(o *Options, _ *observation.Bundle) { o.Flags.FitPos = []bool{true, false} },
			wantErr: fiterr.ErrInvalidConfiguration,
		},
		{
			name:    "unknown telescope",
			mutate:  func(_ *Options, b *observation.Bundle) { b.Telescope = "KECK" },
			wantErr: fiterr.ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b *observation.Bundle
			if tt.bundle != nil {
				b = tt.bundle()
			} else {
				b = simulated(t, "COMBINED", 4)
			}
			o := testOptions(4)
			o.NoFit = true
			tt.mutate(&o, b)
			d, err := NewDriver(o)
			require.NoError(t, err)
			_, err = d.Run(context.Background(), b)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunHonorsContext(t *testing.T) {
	d, err := NewDriver(testOptions(4))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, simulated(t, "COMBINED", 4))
	assert.ErrorIs(t, err, context.Canceled)
}

type recorder struct {
	mu       sync.Mutex
	started  []UnitKey
	progress int
	finished []UnitResult
}

func (r *recorder) UnitStarted(key UnitKey, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, key)
}

func (r *recorder) UnitProgress(UnitKey, ensemble.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recorder) UnitFinished(_ UnitKey, res UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

func TestObserverNotified(t *testing.T) {
	o := testOptions(4)
	o.Steps = 20
	o.Prefit = true
	o.PrefitIterations = 50
	rec := &recorder{}
	d, err := NewDriver(o, WithObserver(rec))
	require.NoError(t, err)

	rep, err := d.Run(context.Background(), simulated(t, "SPLIT", 4))
	require.NoError(t, err)
	require.Len(t, rec.started, 2)
	assert.Equal(t, rep.RunID, rec.started[0].RunID)
	assert.Equal(t, 1, rec.started[1].Polarization)
	assert.Equal(t, 2*20, rec.progress)
	require.Len(t, rec.finished, 2)
	assert.Empty(t, rec.finished[0].Error)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{"valid", func(*Options) {}, true},
		{"no sources", func(o *Options) { o.Sources = nil }, false},
		{"unknown mode", func(o *Options) { o.Mode = spectral.Mode(42) }, false},
		{"negative weight", func(o *Options) { o.Weights[observation.Vis2] = -1 }, false},
		{"odd walkers", func(o *Options) { o.Walkers = 31 }, false},
		{"odd walkers without fit", func(o *Options) { o.Walkers, o.NoFit = 31, true }, true},
		{"zero steps", func(o *Options) { o.Steps = 0 }, false},
		{"negative threads", func(o *Options) { o.Threads = -1 }, false},
		{"zero jitter", func(o *Options) { o.Jitter = 0 }, false},
		{"zero min valid", func(o *Options) { o.MinValidChannels = 0 }, false},
		{"bad polarization", func(o *Options) { o.Polarization = -2 }, false},
		{"prefit without iterations", func(o *Options) { o.Prefit, o.PrefitIterations = true, 0 }, false},
		{"oversample one", func(o *Options) { o.Oversample = 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions(4)
			tt.mutate(&o)
			err := o.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
		})
	}
}

func TestWindow(t *testing.T) {
	tests := []struct{ steps, want int }{
		{50, 50},
		{200, 200},
		{201, 100},
		{300, 100},
		{301, 200},
		{5000, 200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, window(tt.steps), "steps=%d", tt.steps)
	}
}

func TestSummarizeGaussian(t *testing.T) {
	mu := []float64{1, -2}
	sigma := []float64{0.5, 2}
	lp := func(p []float64) float64 {
		var s float64
		for i := range p {
			z := (p[i] - mu[i]) / sigma[i]
			s -= 0.5 * z * z
		}
		return s
	}
	s, err := ensemble.New(ensemble.Config{Walkers: 32, Steps: 600, Threads: 1, StretchScale: 2, Seed: 3})
	require.NoError(t, err)
	initial := make([][]float64, 32)
	for w := range initial {
		initial[w] = []float64{mu[0] + 0.01*float64(w-16), mu[1] - 0.01*float64(w-16)}
	}
	chain, err := s.Run(context.Background(), lp, initial)
	require.NoError(t, err)

	sum := summarize(chain)
	assert.Equal(t, 400, sum.discard)
	for d := range mu {
		assert.InDelta(t, mu[d], sum.median[d], 0.3*sigma[d])
		assert.InDelta(t, sigma[d], sum.upper[d]-sum.median[d], 0.35*sigma[d])
		assert.InDelta(t, sigma[d], sum.median[d]-sum.lower[d], 0.35*sigma[d])
		assert.InDelta(t, mu[d], sum.best[d], sigma[d])
	}
	assert.LessOrEqual(t, sum.bestLogProb, 0.0)
}

func TestWeightedReducedChi2(t *testing.T) {
	v, ok := weightedReducedChi2(observation.Row{1, 3, math.NaN(), math.Inf(1), 2})
	require.True(t, ok)
	assert.InDelta(t, 2, v, 1e-12)
	_, ok = weightedReducedChi2(observation.Row{math.NaN()})
	assert.False(t, ok)
}

func TestValueJSON(t *testing.T) {
	raw, err := json.Marshal([]Value{1.5, Value(math.NaN()), Value(math.Inf(-1))})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null,null]", string(raw))

	var back []Value
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Value(1.5), back[0])
	assert.True(t, math.IsNaN(float64(back[1])))
}
