// Package server provides the cooldown admin HTTP API.
//
// Routes:
//
//	GET    /healthz, /readyz, /version, /metrics
//	GET    /v1/limits                             usage records
//	GET    /v1/limits/{feature}/{scope}           check result and usage
//	POST   /v1/limits/{feature}/{scope}/consume   consume one use (429 when denied)
//	POST   /v1/limits/{feature}/{scope}/arm       arm the cooldown if needed
//	DELETE /v1/limits/{feature}/{scope}           reset the key
//	GET    /v1/cooldowns                          armed cooldowns, soonest first
//	POST   /v1/resume                             reconcile after suspend
//	POST   /v1/policies/reload                    reload the policy file
//
// The API is for operators and local tooling; it has no authentication and
// binds to loopback by default.
package server
