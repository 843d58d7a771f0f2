// Package telemetry groups the cooldown service's observability packages.
//
//   - logging: slog handler construction with context fields and redaction
//   - metrics: Prometheus registry, admin request metrics and /metrics handler
//   - tracing: OpenTelemetry provider, OTLP export and HTTP middleware
//   - health: liveness and readiness checks
//
// The limit engine itself only depends on *slog.Logger, a Prometheus
// Registerer and the global OpenTelemetry provider, so these packages are
// wired together in cmd/cooldown.
package telemetry
