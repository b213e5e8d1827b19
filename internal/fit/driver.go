package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gravfit/internal/ensemble"
	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/logging"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/params"
	"github.com/fyrsmithlabs/gravfit/internal/phasemap"
)

// PhaseMap enables phase-map corrections for a run.
type PhaseMap struct {
	Grid        *phasemap.Grid
	PixelOffset [2]float64
	Interpolate bool
	// Simulated maps live in the pupil frame, so north angles and
	// metrology offsets are ignored.
	Simulated bool
	// Fit looks the couplings up at every evaluation. When false they are
	// looked up once at the initial source positions and held fixed.
	Fit bool
}

// Driver runs fits over every unit of an observation bundle.
type Driver struct {
	opts      Options
	phasemap  *PhaseMap
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	observers observers
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithPhaseMap enables phase-map corrections.
func WithPhaseMap(pm *PhaseMap) Option {
	return func(d *Driver) { d.phasemap = pm }
}

// WithMetrics sets custom metrics for the driver.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// NewDriver validates opts and returns a driver.
func NewDriver(opts Options, o ...Option) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{opts: opts}
	for _, fn := range o {
		fn(d)
	}
	if d.phasemap != nil && d.phasemap.Grid == nil {
		return nil, fiterr.Invalid("fit.NewDriver", "phase map enabled without a grid")
	}
	if d.phasemap != nil && opts.Oversample > 0 {
		return nil, fiterr.Invalid("fit.NewDriver", "oversampled model output cannot use phase maps")
	}
	if d.logger == nil {
		d.logger = logging.NewNop()
	}
	if d.tracer == nil {
		d.tracer = tracer()
	}
	if d.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("creating fit metrics: %w", err)
		}
		d.metrics = m
	}
	return d, nil
}

// Options returns the driver options.
func (d *Driver) Options() Options { return d.opts }

// Run fits every unit of b in turn. Configuration, resource and dimension
// errors abort the run; degenerate units are reported as skipped.
func (d *Driver) Run(ctx context.Context, b *observation.Bundle) (*Report, error) {
	const op = "fit.Run"
	started := time.Now()
	o := d.opts

	if err := b.Validate(); err != nil {
		return nil, err
	}
	window, err := o.Prepare.Resolve(b.Resolution)
	if err != nil {
		return nil, err
	}
	if o.Flags.FitPhaseCenter && len(b.Wave) < 2 {
		return nil, fiterr.Invalid(op, "phase-center fit needs at least 2 channels, data has %d", len(b.Wave))
	}
	layout, err := model.BuildLayout(o.Sources, o.Flags)
	if err != nil {
		return nil, err
	}
	m, err := d.model(b, layout.Initial())
	if err != nil {
		return nil, err
	}
	units, err := b.Units(o.Polarization)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithLogger(logging.WithRunID(ctx, runID), d.logger)
	ctx, span := d.tracer.Start(ctx, "fit.Run", trace.WithAttributes(
		attribute.String("fit.run_id", runID),
		attribute.String("fit.mode", o.Mode.String()),
		attribute.Int("fit.units", len(units)),
		attribute.Int("fit.free_parameters", layout.NumFree()),
	))
	defer span.End()

	d.logger.Info(ctx, "fit started",
		zap.String("mode", o.Mode.String()),
		zap.Int("units", len(units)),
		zap.Int("channels", len(b.Wave)),
		zap.Strings("free", layout.FreeNames()),
		zap.Bool("phasemaps", d.phasemap != nil),
		zap.Bool("phasemaps_frozen", m.Frozen()),
		zap.Int("flag_till", window.FlagTill),
		zap.Int("flag_from", window.FlagFrom),
	)

	report := &Report{
		RunID:     runID,
		Mode:      o.Mode.String(),
		Names:     layout.Names(),
		FreeNames: layout.FreeNames(),
		Units:     make([]UnitResult, 0, len(units)),
		Started:   started,
	}
	rs := &runState{id: runID, model: m, layout: layout, bundle: b, window: window}
	for i := range units {
		res, err := d.fitUnit(ctx, rs, i, &units[i])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error(ctx, "fit aborted", zap.Error(err))
			return nil, err
		}
		report.Units = append(report.Units, res)
	}
	report.Duration = time.Since(started).Seconds()

	span.SetStatus(codes.Ok, "")
	d.logger.Info(ctx, "fit finished", zap.Duration("duration", time.Since(started)))
	return report, nil
}

// runState holds what every unit of one Run shares.
type runState struct {
	id     string
	model  *model.Model
	layout *params.Layout
	bundle *observation.Bundle
	window observation.PrepareOptions
}

// model builds the model for bundle b. Unless the phase maps are fitted,
// their couplings are frozen at the full initial vector.
func (d *Driver) model(b *observation.Bundle, initial []float64) (*model.Model, error) {
	corrector, err := d.corrector(b)
	if err != nil {
		return nil, err
	}
	m, err := model.New(model.Options{
		Mode:           d.opts.Mode,
		NumSources:     len(d.opts.Sources),
		StarAlpha:      d.opts.StarAlpha,
		FitPhaseCenter: d.opts.Flags.FitPhaseCenter,
	}, corrector)
	if err != nil {
		return nil, err
	}
	if corrector == nil || d.phasemap.Fit {
		return m, nil
	}
	frozen, err := m.Freeze(initial)
	if err != nil {
		return nil, fmt.Errorf("phase map at the initial positions: %w", err)
	}
	return frozen, nil
}

// corrector binds the phase maps to the observation geometry, or returns
// nil when phase maps are off.
func (d *Driver) corrector(b *observation.Bundle) (*phasemap.Corrector, error) {
	if d.phasemap == nil {
		return nil, nil
	}
	tel, err := interferometer.ParseTelescope(b.Telescope)
	if err != nil {
		return nil, err
	}
	geo := phasemap.Geometry{
		DRA:         b.DRA,
		DDEC:        b.DDEC,
		Telescope:   tel,
		PixelOffset: d.phasemap.PixelOffset,
		Interpolate: d.phasemap.Interpolate,
	}
	for i, a := range b.NorthAngle {
		geo.NorthAngle[i] = a * math.Pi / 180
	}
	if d.phasemap.Simulated {
		geo = geo.Zeroed()
	}
	return phasemap.NewCorrector(d.phasemap.Grid, geo, len(b.Wave))
}

func (d *Driver) fitUnit(ctx context.Context, rs *runState, idx int, u *observation.Unit) (UnitResult, error) {
	key := UnitKey{RunID: rs.id, Polarization: u.Polarization, DIT: u.DIT}
	ctx = logging.WithUnit(ctx, u.Polarization, u.DIT)
	ctx, span := d.tracer.Start(ctx, "fit.unit", trace.WithAttributes(unitAttributes(rs.id, u.Polarization, u.DIT)...))
	defer span.End()

	began := time.Now()
	d.metrics.unitStarted(ctx)
	steps := d.opts.Steps
	if d.opts.NoFit {
		steps = 0
	}
	d.observers.started(key, steps)

	res, outcome, err := d.runUnit(ctx, rs, key, idx, u)
	if err != nil {
		d.metrics.unitFinished(ctx, OutcomeFailed, time.Since(began), nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		failed := skippedResult(u.Polarization, u.DIT, rs.layout.Len(), "")
		failed.Skipped = false
		failed.Error = err.Error()
		d.observers.finished(key, failed)
		return UnitResult{}, err
	}

	span.SetAttributes(attribute.String("fit.outcome", outcome))
	if chi2, ok := weightedReducedChi2(res.ReducedChi2); ok {
		span.SetAttributes(attribute.Float64("fit.reduced_chi2", chi2))
	}
	d.metrics.unitFinished(ctx, outcome, time.Since(began), &res)
	d.observers.finished(key, res)
	return res, nil
}

func (d *Driver) runUnit(ctx context.Context, rs *runState, key UnitKey, idx int, u *observation.Unit) (UnitResult, string, error) {
	o := d.opts
	m, layout := rs.model, rs.layout

	observation.Prepare(u, rs.window)
	if err := degenerate(u, o.Weights, o.MinValidChannels); err != nil {
		d.logger.Warn(ctx, "skipping degenerate unit", zap.Error(err))
		return skippedResult(u.Polarization, u.DIT, layout.Len(), err.Error()), OutcomeSkipped, nil
	}

	smp, err := model.NewSampling(rs.bundle, u)
	if err != nil {
		return UnitResult{}, OutcomeFailed, err
	}
	tg, err := likelihood.New(m, layout, smp, u, o.Weights)
	if err != nil {
		return UnitResult{}, OutcomeFailed, err
	}

	if o.NoFit {
		res, err := d.evaluateOnly(ctx, tg, m, smp, u)
		return res, OutcomeEvaluated, err
	}

	res := UnitResult{Polarization: u.Polarization, DIT: u.DIT}
	if err := d.sample(ctx, key, idx, tg, layout, &res); err != nil {
		return UnitResult{}, OutcomeFailed, err
	}
	if err := d.evaluateReported(ctx, &res, tg, m, smp); err != nil {
		return UnitResult{}, OutcomeFailed, err
	}
	d.logger.Info(ctx, "unit fitted",
		zap.Float64("acceptance", float64(res.Acceptance)),
		zap.Float64("max_log_prob", float64(res.MaxLogProb)),
		zap.Float64s("reported", res.Reported),
	)
	return res, OutcomeFitted, nil
}

// posterior is the log probability explored by the sampler.
type posterior interface {
	Dim() int
	InBounds(reduced []float64) bool
	LogProb(reduced []float64) float64
}

// sample runs the optional prefit and the ensemble sampler on post and
// fills the chain summaries of res as full vectors.
func (d *Driver) sample(ctx context.Context, key UnitKey, idx int, post posterior, layout *params.Layout, res *UnitResult) error {
	o := d.opts
	start := layout.InitialFree()
	if o.Prefit {
		start = prefit(ctx, post, start, o.PrefitIterations)
	}

	rng := rand.New(rand.NewPCG(o.Seed, uint64(idx)))
	initial, err := initialWalkers(post, start, o.Walkers, o.Jitter, rng)
	if err != nil {
		return err
	}

	sampler, err := ensemble.New(ensemble.Config{
		Walkers:      o.Walkers,
		Steps:        o.Steps,
		Threads:      o.Threads,
		StretchScale: ensemble.DefaultStretchScale,
		Seed:         o.Seed + uint64(idx),
	}, ensemble.WithProgress(d.progress(ctx, key)))
	if err != nil {
		return err
	}

	d.logger.Debug(ctx, "sampling", zap.Int("walkers", o.Walkers), zap.Int("steps", o.Steps), zap.Int("dim", post.Dim()))
	chain, err := sampler.Run(ctx, post.LogProb, initial)
	if err != nil {
		return err
	}

	s := summarize(chain)
	res.Steps = chain.Steps()
	res.Discarded = s.discard
	res.MaxLogProb = Value(s.bestLogProb)
	var acc float64
	for _, a := range chain.AcceptanceFraction() {
		acc += a
	}
	res.Acceptance = Value(acc / float64(chain.Walkers()))

	for _, v := range []struct {
		dst *observation.Row
		src []float64
	}{
		{&res.Best, s.best},
		{&res.Median, s.median},
		{&res.Lower, s.lower},
		{&res.Upper, s.upper},
	} {
		full, err := layout.Expand(v.src)
		if err != nil {
			return err
		}
		*v.dst = full
	}
	res.Reported = res.Median
	if o.BestChi2 {
		res.Reported = res.Best
	}
	return nil
}

// evaluateOnly reports the model and chi-square at the initial vector.
func (d *Driver) evaluateOnly(ctx context.Context, tg *likelihood.Target, m *model.Model, smp *model.Sampling, u *observation.Unit) (UnitResult, error) {
	full := tg.Layout().Initial()
	res := UnitResult{
		Polarization: u.Polarization,
		DIT:          u.DIT,
		Best:         full,
		Median:       full,
		Lower:        full,
		Upper:        full,
		Reported:     full,
		Acceptance:   Value(math.NaN()),
		MaxLogProb:   Value(tg.LogProb(tg.Layout().InitialFree())),
	}
	if err := d.evaluateReported(ctx, &res, tg, m, smp); err != nil {
		return UnitResult{}, err
	}
	d.logger.Info(ctx, "unit evaluated", zap.Float64("log_prob", float64(res.MaxLogProb)))
	return res, nil
}

// evaluateReported fills in chi-square and the model at res.Reported. A
// reported vector outside the phase map yields NaN chi-square and no model.
func (d *Driver) evaluateReported(ctx context.Context, res *UnitResult, tg *likelihood.Target, m *model.Model, smp *model.Sampling) error {
	res.Dof = tg.Dim()
	terms, _, err := tg.Chi2(res.Reported)
	if errors.Is(err, phasemap.ErrOutsideGrid) {
		d.logger.Warn(ctx, "reported vector lies outside the phase map", zap.Error(err))
		res.Chi2 = nanRow(int(observation.NumKinds))
		res.ReducedChi2 = nanRow(int(observation.NumKinds))
		return nil
	}
	if err != nil {
		return err
	}
	reduced, err := tg.ReducedChi2(res.Reported)
	if err != nil {
		return err
	}
	res.Chi2 = termsRow(terms)
	res.ReducedChi2 = termsRow(reduced)

	grid := smp
	if d.opts.Oversample > 0 {
		if grid, err = model.Oversample(smp, d.opts.Oversample); err != nil {
			return err
		}
	}
	out, err := m.Evaluate(res.Reported, grid)
	if err != nil {
		return err
	}
	res.Model = NewModelOutput(grid.Wave, out)
	return nil
}

// progress forwards sampler progress to observers and logs roughly every
// tenth of the run.
func (d *Driver) progress(ctx context.Context, key UnitKey) func(ensemble.Progress) {
	every := max(d.opts.Steps/10, 1)
	return func(p ensemble.Progress) {
		d.observers.progress(key, p)
		if p.Step%every == 0 || p.Step == p.Steps {
			d.logger.Debug(ctx, "sampler progress",
				zap.Int("step", p.Step),
				zap.Int("steps", p.Steps),
				zap.Float64("acceptance", p.Acceptance),
				zap.Float64("max_log_prob", p.MaxLogProb),
			)
		}
	}
}

// degenerate reports a weighted observable row with fewer than minValid
// unflagged channels.
func degenerate(u *observation.Unit, w likelihood.Weights, minValid int) error {
	for k := observation.Kind(0); k < observation.NumKinds; k++ {
		blk := u.Blocks[k]
		if w[k] == 0 || !blk.Present() {
			continue
		}
		for row := range blk.Value {
			if n := blk.ValidChannels(row); n < minValid {
				return fiterr.Degenerate("fit.degenerate",
					"%s row %d has %d valid channels, need %d", k, row, n, minValid)
			}
		}
	}
	return nil
}
