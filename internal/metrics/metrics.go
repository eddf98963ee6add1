// Package metrics exposes Prometheus counters for the coordination layer.
//
// Every method is nil-safe so components can take an optional *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	refetches       *prometheus.CounterVec
	refetchFailures *prometheus.CounterVec
	dedupDecisions  *prometheus.CounterVec
	actionOutcomes  *prometheus.CounterVec
	toasts          prometheus.Counter
	pushSent        *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "refetches_total",
			Help:      "View re-fetches triggered by change events.",
		}, []string{"domain"}),
		refetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "refetch_failures_total",
			Help:      "View re-fetches that failed and kept the last view.",
		}, []string{"domain"}),
		dedupDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "dedup_decisions_total",
			Help:      "Inbound notification events by channel and dedup outcome.",
		}, []string{"channel", "outcome"}),
		actionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "action_outcomes_total",
			Help:      "Optimistic actions by name and final state.",
		}, []string{"action", "state"}),
		toasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "toasts_shown_total",
			Help:      "In-app toasts rendered.",
		}),
		pushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valetsync",
			Name:      "push_messages_total",
			Help:      "Push messages handed to the transport by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.refetches, m.refetchFailures, m.dedupDecisions, m.actionOutcomes, m.toasts, m.pushSent)
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

// ObserveRefetch counts a re-fetch of domain and whether it failed.
func (m *Metrics) ObserveRefetch(domain string, err error) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(domain).Inc()
	if err != nil {
		m.refetchFailures.WithLabelValues(domain).Inc()
	}
}

// ObserveDedup counts an inbound event; allowed=false means suppressed.
func (m *Metrics) ObserveDedup(channel string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "suppressed"
	if allowed {
		outcome = "allowed"
	}
	m.dedupDecisions.WithLabelValues(channel, outcome).Inc()
}

// ObserveAction counts an action outcome.
func (m *Metrics) ObserveAction(action, state string) {
	if m == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(action, state).Inc()
}

// ObserveToast counts a rendered toast.
func (m *Metrics) ObserveToast() {
	if m == nil {
		return
	}
	m.toasts.Inc()
}

// ObservePush counts push messages by result ("sent" or "failed").
func (m *Metrics) ObservePush(sent, failed int) {
	if m == nil {
		return
	}
	m.pushSent.WithLabelValues("sent").Add(float64(sent))
	m.pushSent.WithLabelValues("failed").Add(float64(failed))
}
