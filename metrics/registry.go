// Package metrics is the Prometheus-backed implementation of the
// MetricsRegistry (core) and MetricsCollector (resilience) seams, so every
// component that only depends on those interfaces gets real counters,
// histograms and gauges without importing Prometheus itself. Grounded on
// wisbric-nightowl's internal/telemetry/metrics.go package-level vector
// style and internal/httpserver/server.go's promhttp.HandlerFor mounting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a dedicated Prometheus registry (rather than the global
// default one) so multiple instances in tests don't collide on
// re-registration, and exposes both the generic core.MetricsRegistry shape
// and the resilience-specific circuit breaker seam.
type Registry struct {
	reg *prometheus.Registry

	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
	gauges     *prometheus.GaugeVec

	cbSuccess      *prometheus.CounterVec
	cbFailure      *prometheus.CounterVec
	cbStateChange  *prometheus.CounterVec
	cbRejection    *prometheus.CounterVec
}

// NewRegistry builds a Registry with the fixed label set {name, labels} for
// the generic dynamic metrics; callers pass additional labels through the
// "labels" map argument, which are flattened into the single "labels" label
// to keep the metric's label schema stable regardless of caller-supplied keys.
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Generic counter metric, keyed by name and a flattened label set.",
		}, []string{"name", "labels"}),
		histograms: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "observations",
			Help:      "Generic histogram metric, keyed by name and a flattened label set.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "labels"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gauges",
			Help:      "Generic gauge metric, keyed by name and a flattened label set.",
		}, []string{"name", "labels"}),
		cbSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "success_total",
			Help:      "Total successful calls observed by a circuit breaker.",
		}, []string{"service"}),
		cbFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "failure_total",
			Help:      "Total failed calls observed by a circuit breaker.",
		}, []string{"service", "error_type"}),
		cbStateChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_change_total",
			Help:      "Total circuit breaker state transitions.",
		}, []string{"service", "from", "to"}),
		cbRejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "rejection_total",
			Help:      "Total calls rejected while a circuit breaker was open.",
		}, []string{"service"}),
	}

	reg.MustRegister(r.counters, r.histograms, r.gauges, r.cbSuccess, r.cbFailure, r.cbStateChange, r.cbRejection)
	return r
}

// Handler exposes the registry's collectors at a "/metrics"-style route.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func flatten(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	out := ""
	for k, v := range labels {
		if out != "" {
			out += ","
		}
		out += k + "=" + v
	}
	return out
}

// IncCounter satisfies core.MetricsRegistry.
func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.counters.WithLabelValues(name, flatten(labels)).Inc()
}

// ObserveHistogram satisfies core.MetricsRegistry.
func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.histograms.WithLabelValues(name, flatten(labels)).Observe(value)
}

// SetGauge satisfies core.MetricsRegistry.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.gauges.WithLabelValues(name, flatten(labels)).Set(value)
}

// RecordSuccess satisfies resilience.MetricsCollector.
func (r *Registry) RecordSuccess(name string) { r.cbSuccess.WithLabelValues(name).Inc() }

// RecordFailure satisfies resilience.MetricsCollector.
func (r *Registry) RecordFailure(name string, errorType string) {
	r.cbFailure.WithLabelValues(name, errorType).Inc()
}

// RecordStateChange satisfies resilience.MetricsCollector.
func (r *Registry) RecordStateChange(name string, from, to string) {
	r.cbStateChange.WithLabelValues(name, from, to).Inc()
}

// RecordRejection satisfies resilience.MetricsCollector.
func (r *Registry) RecordRejection(name string) { r.cbRejection.WithLabelValues(name).Inc() }
