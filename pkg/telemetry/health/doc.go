// Package health provides liveness and readiness checks for the cooldown
// service.
//
// Checks are registered per component. Critical checks (usage storage,
// scheduler) make the service unready when they fail; optional checks
// (policy reloads) only mark it degraded, since the last good policies and
// the engine's fallbacks keep serving.
//
//	checker := health.New(5 * time.Second)
//	checker.Register("storage", health.PingCheck(backend))
//	checker.RegisterOptional("policies", health.PolicyCheck(provider))
//
//	r.Get("/healthz", checker.LivenessHandler())
//	r.Get("/readyz", checker.ReadinessHandler())
package health
