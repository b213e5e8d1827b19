package fit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the OTEL scope of the fit driver.
const InstrumentationName = "github.com/fyrsmithlabs/gravfit/internal/fit"

// Unit outcomes used as the "outcome" metric attribute.
const (
	OutcomeFitted    = "fitted"
	OutcomeEvaluated = "evaluated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics records fit-level OpenTelemetry metrics.
type Metrics struct {
	unitsTotal   metric.Int64Counter
	activeUnits  metric.Int64UpDownCounter
	unitDuration metric.Float64Histogram
	acceptance   metric.Float64Histogram
	reducedChi2  metric.Float64Histogram

	initialized bool
}

// NewMetrics creates the fit instruments. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.unitsTotal, err = meter.Int64Counter(
		"fit.units.total",
		metric.WithDescription("Fit units processed, by outcome"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeUnits, err = meter.Int64UpDownCounter(
		"fit.units.active",
		metric.WithDescription("Fit units currently running"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	m.unitDuration, err = meter.Float64Histogram(
		"fit.unit.duration.seconds",
		metric.WithDescription("Wall time of one fit unit"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, err
	}

	m.acceptance, err = meter.Float64Histogram(
		"fit.sampler.acceptance.ratio",
		metric.WithDescription("Mean walker acceptance fraction per unit"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8),
	)
	if err != nil {
		return nil, err
	}

	m.reducedChi2, err = meter.Float64Histogram(
		"fit.reduced_chi2",
		metric.WithDescription("Weighted reduced chi-square at the reported vector"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.5, 0.8, 1, 1.2, 1.5, 2, 5, 10, 100),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

func (m *Metrics) unitStarted(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.activeUnits.Add(ctx, 1)
}

// unitFinished records the outcome of one unit. Run and unit ids stay out
// of the attributes; they are on spans and logs.
func (m *Metrics) unitFinished(ctx context.Context, outcome string, d time.Duration, res *UnitResult) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.activeUnits.Add(ctx, -1)
	m.unitsTotal.Add(ctx, 1, attrs)
	m.unitDuration.Record(ctx, d.Seconds(), attrs)
	if res == nil || res.Skipped {
		return
	}
	if outcome == OutcomeFitted {
		m.acceptance.Record(ctx, float64(res.Acceptance))
	}
	if chi2, ok := weightedReducedChi2(res.ReducedChi2); ok {
		m.reducedChi2.Record(ctx, chi2)
	}
}

// tracer returns the global tracer for the fit driver.
func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

func unitAttributes(runID string, pol, dit int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("fit.run_id", runID),
		attribute.Int("fit.polarization", pol),
		attribute.Int("fit.dit", dit),
	}
}
