// Package metrics exposes Prometheus collectors for the subscription engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subengine"

// Metrics holds the engine's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	usageEntries        prometheus.Counter
	throttlesApplied    prometheus.Counter
	bandwidthRestores   prometheus.Counter
	throttleFailures    prometheus.Counter
	allocationRejected  prometheus.Counter
	throttleEvaluations *prometheus.CounterVec
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Subscription lifecycle transitions by action.",
		}, []string{"action"}),
		usageEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_entries_total",
			Help:      "Usage entries appended to the ledger.",
		}),
		throttlesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttles_applied_total",
			Help:      "Subscriptions throttled after exceeding their data cap.",
		}),
		bandwidthRestores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bandwidth_restores_total",
			Help:      "Bandwidth resets performed on renew or upgrade.",
		}),
		throttleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_evaluation_failures_total",
			Help:      "Throttle evaluations that failed after the usage entry was stored.",
		}),
		allocationRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_rejections_total",
			Help:      "Point-of-sale allocations rejected by the bandwidth pool ceiling.",
		}),
		throttleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_evaluations_total",
			Help:      "Throttle evaluations by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.usageEntries,
		m.throttlesApplied,
		m.bandwidthRestores,
		m.throttleFailures,
		m.allocationRejected,
		m.throttleEvaluations,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts a lifecycle transition.
func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// UsageEntry counts an appended usage entry.
func (m *Metrics) UsageEntry() {
	if m == nil {
		return
	}
	m.usageEntries.Inc()
}

// ThrottleEvaluated counts a throttle evaluation outcome such as "throttled" or "noop".
func (m *Metrics) ThrottleEvaluated(outcome string) {
	if m == nil {
		return
	}
	m.throttleEvaluations.WithLabelValues(outcome).Inc()
	if outcome == "throttled" {
		m.throttlesApplied.Inc()
	}
}

// BandwidthRestored counts a restore.
func (m *Metrics) BandwidthRestored() {
	if m == nil {
		return
	}
	m.bandwidthRestores.Inc()
}

// ThrottleFailure counts a failed throttle evaluation.
func (m *Metrics) ThrottleFailure() {
	if m == nil {
		return
	}
	m.throttleFailures.Inc()
}

// AllocationRejected counts a pool capacity rejection.
func (m *Metrics) AllocationRejected() {
	if m == nil {
		return
	}
	m.allocationRejected.Inc()
}
