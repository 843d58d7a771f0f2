package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the limits package.
type Metrics struct {
	// Decisions
	checks   *prometheus.CounterVec
	consumes *prometheus.CounterVec

	// Cooldown lifecycle
	arms     *prometheus.CounterVec
	expiries *prometheus.CounterVec
	armed    prometheus.Gauge

	// Degraded paths
	fallbacks     *prometheus.CounterVec
	storageErrors *prometheus.CounterVec

	// Operation latency
	duration *prometheus.HistogramVec
}

// NewMetrics registers the limits collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer; registering twice with the same registry
// panics, so tests pass a fresh prometheus.NewRegistry().
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "cooldown"
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "limit_checks_total",
				Help:      "Total number of limit checks by feature and decision",
			},
			[]string{"feature", "result"},
		),

		consumes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "limit_consumes_total",
				Help:      "Total number of consume attempts by feature and outcome",
			},
			[]string{"feature", "result"},
		),

		arms: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldown_arms_total",
				Help:      "Total number of cooldowns armed",
			},
			[]string{"feature"},
		),

		expiries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldown_expiries_total",
				Help:      "Total number of cooldown expiries by detection source",
			},
			[]string{"feature", "source"},
		),

		armed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cooldowns_armed",
				Help:      "Number of cooldowns currently pending a timer",
			},
		),

		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_fallbacks_total",
				Help:      "Total number of times a provider failed and a cached or default value was used",
			},
			[]string{"provider", "fallback"},
		),

		storageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of usage storage failures",
			},
			[]string{"op"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"operation"},
		),
	}
}

// RecordCheck records a Check decision.
func (m *Metrics) RecordCheck(feature string, result CheckResult) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(feature, decisionLabel(result)).Inc()
}

// RecordConsume records a Consume outcome.
func (m *Metrics) RecordConsume(feature string, consumed bool) {
	if m == nil {
		return
	}
	result := "consumed"
	if !consumed {
		result = "denied"
	}
	m.consumes.WithLabelValues(feature, result).Inc()
}

// RecordArm records a newly armed cooldown.
func (m *Metrics) RecordArm(feature string) {
	if m == nil {
		return
	}
	m.arms.WithLabelValues(feature).Inc()
}

// RecordExpiry records a cooldown expiry and where it was detected.
func (m *Metrics) RecordExpiry(feature, source string) {
	if m == nil {
		return
	}
	m.expiries.WithLabelValues(feature, source).Inc()
}

// SetArmed updates the armed-cooldown gauge.
func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

// RecordFallback records a provider failure served from cache or defaults.
func (m *Metrics) RecordFallback(provider, fallback string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(provider, fallback).Inc()
}

// RecordStorageError records a storage read or write failure.
func (m *Metrics) RecordStorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

// RecordDuration records the duration of an engine operation.
func (m *Metrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(seconds)
}

func decisionLabel(r CheckResult) string {
	switch {
	case r.Bypassed:
		return "bypassed"
	case r.CanProceed:
		return "allowed"
	case r.RemainingCooldown > 0:
		return "cooldown"
	default:
		return "limit_reached"
	}
}
