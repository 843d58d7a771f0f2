// Package tracing sets up OpenTelemetry tracing for the cooldown service.
//
// New installs a global tracer provider that exports spans over OTLP/gRPC
// and a W3C Trace Context propagator. The limit engine creates its own spans
// (limits.check, limits.consume, limits.arm, limits.reset) from the global
// provider; Middleware adds a server span per admin API request.
//
// # Sampling
//
// Root spans use the configured strategy, children follow their parent:
//   - always: sample every trace
//   - never: sample nothing
//   - ratio: sample sample_ratio of traces by trace ID
//
// # Usage
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	router.Use(tracing.Middleware(tracer.Tracer("cooldown/admin")))
package tracing
