package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/cooldown/pkg/config"
)

// Collector owns the service's Prometheus registry. Engine metrics and the
// admin API's request metrics register with it; Handler exposes all of them.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry
	requests *RequestMetrics
}

// NewCollector creates a registry with Go runtime and process collectors.
// A nil registry creates a fresh one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		config:   cfg,
		registry: registry,
		requests: NewRequestMetrics(cfg.Namespace, registry),
	}
}

// Registry returns the registry for other components to register with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Namespace returns the metric name prefix.
func (c *Collector) Namespace() string {
	return c.config.Namespace
}

// Requests returns the admin API request metrics.
func (c *Collector) Requests() *RequestMetrics {
	return c.requests
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          c.registry,
	})
}
