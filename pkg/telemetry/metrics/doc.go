// Package metrics exposes the cooldown service's Prometheus registry.
//
// The Collector's registry carries Go runtime and process collectors, the
// admin API request metrics from this package and the limit engine's own
// metrics, which register through limits.NewMetrics:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	engineMetrics := limits.NewMetrics(collector.Namespace(), collector.Registry())
//
//	r.Use(collector.Requests().Middleware)
//	r.Handle("/metrics", collector.Handler())
package metrics
