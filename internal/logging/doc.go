// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for per-evaluation detail
//   - console output on stderr and an optional OpenTelemetry log bridge
//   - context correlation: trace_id, span_id, fit.run_id, fit.polarization
//     and fit.dit are added to every entry
//   - per-level sampling, errors never sampled
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Tag the context while fitting:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithUnit(ctx, pol, dit)
//	logger.Info(ctx, "unit fitted", zap.Float64("acceptance", acc))
//
// Use TestLogger for assertions in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "unit fitted")
//	tl.AssertLogged(t, zapcore.InfoLevel, "unit fitted")
//	tl.AssertHasField(t, "unit fitted", "fit.run_id")
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect the parent.
package logging
