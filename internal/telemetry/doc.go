// Package telemetry wires OpenTelemetry tracing and metrics for gravfit.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. Export is disabled by default; a fit never fails because a
// collector is unreachable, the instance degrades to the global no-op
// providers instead.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer(telemetry.Scope).Start(ctx, "fit.Run")
//	defer span.End()
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    export_interval: 15s
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
