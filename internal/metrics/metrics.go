// Package metrics exposes Prometheus counters for the alert engine.
// All methods are safe on a nil *Metrics so callers can skip instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertflow"

// Metrics holds the engine's collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	AlertsCreated    *prometheus.CounterVec
	AlertOccurrences *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	SLABreaches      *prometheus.CounterVec
	ClaimsLost       prometheus.Counter
	EscalationCycle  prometheus.Histogram
	ActiveGroups     prometheus.Gauge
	IngestRejected   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Canonical alerts created, by severity",
		}, []string{"severity"}),
		AlertOccurrences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_occurrences_total",
			Help:      "Raw alert occurrences received, by severity",
		}, []string{"severity"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Alert state transitions",
		}, []string{"from", "to"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation tiers fired",
		}, []string{"tier"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch attempts",
		}, []string{"channel", "status"}),
		SLABreaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_breaches_total",
			Help:      "SLA targets exceeded",
		}, []string{"kind", "severity"}),
		ClaimsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_lost_total",
			Help:      "Escalation tier claims lost to another worker",
		}),
		EscalationCycle: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_cycle_seconds",
			Help:      "Duration of one escalation cycle",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ActiveGroups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_groups",
			Help:      "Alert groups currently active",
		}),
		IngestRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Inbound alert events rejected, by source",
		}, []string{"source"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AlertCreated(severity string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(severity).Inc()
}

func (m *Metrics) Occurrence(severity string) {
	if m == nil {
		return
	}
	m.AlertOccurrences.WithLabelValues(severity).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Escalated(tier string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(tier).Inc()
}

func (m *Metrics) Notified(channel, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) Breached(kind, severity string) {
	if m == nil {
		return
	}
	m.SLABreaches.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) ClaimLost() {
	if m == nil {
		return
	}
	m.ClaimsLost.Inc()
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.EscalationCycle.Observe(seconds)
}

func (m *Metrics) SetActiveGroups(n int) {
	if m == nil {
		return
	}
	m.ActiveGroups.Set(float64(n))
}

func (m *Metrics) Rejected(source string) {
	if m == nil {
		return
	}
	m.IngestRejected.WithLabelValues(source).Inc()
}
