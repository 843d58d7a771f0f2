package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/cooldown/pkg/limits"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest  = "BAD_REQUEST"
	codeUnavailable = "UNAVAILABLE"
	codeInternal    = "INTERNAL"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// LimitResponse describes one key.
type LimitResponse struct {
	Feature string              `json:"feature"`
	Scope   string              `json:"scope"`
	Check   limits.CheckResult  `json:"check"`
	Usage   *limits.UsageRecord `json:"usage,omitempty"`

	// RemainingCooldownSeconds mirrors Check.RemainingCooldown for clients
	// that do not parse Go durations.
	RemainingCooldownSeconds float64 `json:"remaining_cooldown_seconds"`
}

// ActionResponse reports the outcome of consume and arm.
type ActionResponse struct {
	Feature string `json:"feature"`
	Scope   string `json:"scope"`
	OK      bool   `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeEngineError maps engine errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, limits.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func keyParams(r *http.Request) (string, string) {
	return chi.URLParam(r, "feature"), chi.URLParam(r, "scope")
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	feature, scope := keyParams(r)

	res, err := s.opts.Limiter.Check(r.Context(), feature, scope)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := LimitResponse{
		Feature:                  feature,
		Scope:                    scope,
		Check:                    res,
		RemainingCooldownSeconds: res.RemainingCooldown.Seconds(),
	}
	if rec, ok, err := s.opts.Limiter.Usage(r.Context(), feature, scope); err == nil && ok {
		resp.Usage = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) consume(w http.ResponseWriter, r *http.Request) {
	feature, scope := keyParams(r)

	ok, err := s.opts.Limiter.Consume(r.Context(), feature, scope)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, ActionResponse{Feature: feature, Scope: scope, OK: ok})
}

func (s *Server) arm(w http.ResponseWriter, r *http.Request) {
	feature, scope := keyParams(r)

	armed, err := s.opts.Limiter.ArmCooldownIfNeeded(r.Context(), feature, scope)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Feature: feature, Scope: scope, OK: armed})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	feature, scope := keyParams(r)

	if err := s.opts.Limiter.Reset(r.Context(), feature, scope); err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "usage reset via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUsage(w http.ResponseWriter, r *http.Request) {
	keys, err := s.opts.Limiter.Keys(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	records := make([]limits.UsageRecord, 0, len(keys))
	for _, k := range keys {
		rec, ok, err := s.opts.Limiter.Usage(r.Context(), k.FeatureID, k.ScopeKey)
		if err != nil || !ok {
			continue
		}
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, records)
}

// CooldownResponse is one armed cooldown.
type CooldownResponse struct {
	Feature   string     `json:"feature"`
	Scope     string     `json:"scope"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

func (s *Server) listCooldowns(w http.ResponseWriter, r *http.Request) {
	armed := s.opts.Limiter.ArmedKeys()
	out := make([]CooldownResponse, 0, len(armed))
	for _, k := range armed {
		c := CooldownResponse{Feature: k.FeatureID, Scope: k.ScopeKey}
		if rec, ok, err := s.opts.Limiter.Usage(r.Context(), k.FeatureID, k.ScopeKey); err == nil && ok {
			c.StartedAt = rec.CooldownStartAt
		}
		out = append(out, c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	n, err := s.opts.Limiter.Resume(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Reload(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "policy reload failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, codeBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
