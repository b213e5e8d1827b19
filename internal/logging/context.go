package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context: the active span
// and the fit run and unit.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("fit.run_id", runID))
	}
	if u, ok := ctx.Value(unitCtxKey{}).(unit); ok {
		fields = append(fields,
			zap.Int("fit.polarization", u.polarization),
			zap.Int("fit.dit", u.dit),
		)
	}
	return fields
}

type runCtxKey struct{}
type unitCtxKey struct{}
type loggerCtxKey struct{}

type unit struct {
	polarization, dit int
}

// WithRunID tags the context with a fit run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the fit run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithUnit tags the context with the polarization and DIT being fitted.
func WithUnit(ctx context.Context, polarization, dit int) context.Context {
	return context.WithValue(ctx, unitCtxKey{}, unit{polarization: polarization, dit: dit})
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
