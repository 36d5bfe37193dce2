// Package metrics exports admission decisions as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
)

const namespace = "bottlegate"

// Collector is an admission.Observer that keeps decision counters.
type Collector struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	degraded    prometheus.Counter
	escalations *prometheus.CounterVec
	latency     prometheus.Histogram
}

// Options selects the runtime collectors registered alongside.
type Options struct {
	DisableCollectProcess bool
	DisableCollectGo      bool
}

// New creates a Collector on its own registry.
func New(opts Options) *Collector {
	reg := prometheus.NewRegistry()
	if !opts.DisableCollectProcess {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if !opts.DisableCollectGo {
		reg.MustRegister(collectors.NewGoCollector())
	}

	c := &Collector{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by outcome and reason.",
		}, []string{"decision", "reason", "limiter"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_degraded_total",
			Help:      "Submissions accepted while a dependency was unavailable.",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denylist_escalations_total",
			Help:      "Identities pushed onto the denylist by the quota enforcer.",
		}, []string{"kind", "reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent deciding one submission.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	reg.MustRegister(c.decisions, c.degraded, c.escalations, c.latency)
	return c
}

// Observe implements admission.Observer.
func (c *Collector) Observe(e admission.Event) {
	c.decisions.WithLabelValues(
		string(e.Verdict.Decision),
		string(e.Verdict.Reason),
		e.Verdict.Limiter,
	).Inc()
	if e.Verdict.Degraded {
		c.degraded.Inc()
	}
	if e.Escalation != nil {
		c.escalations.WithLabelValues(string(e.Escalation.Identity.Kind()), string(e.Escalation.Reason)).Inc()
	}
	c.latency.Observe(e.Latency.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
