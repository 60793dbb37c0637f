// Package metrics provides Prometheus metrics for the widget server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Send outcomes recorded in SendsTotal.
const (
	OutcomeReply     = "reply"
	OutcomeFallback  = "fallback"
	OutcomeDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics for the widget server.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	SendsTotal       *prometheus.CounterVec
	SendsInFlight    prometheus.Gauge
	SubmitsRejected  *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	ArchiveDropped prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg keeps
// them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "helpinghand_sessions_active",
			Help: "Number of widget sessions currently hosted",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "helpinghand_sessions_started_total",
			Help: "Total number of widget sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpinghand_sessions_ended_total",
			Help: "Total number of widget sessions ended, by reason",
		}, []string{"reason"}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpinghand_sends_total",
			Help: "Total number of settled sends, by outcome",
		}, []string{"provider", "outcome"}),
		SendsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "helpinghand_sends_in_flight",
			Help: "Number of sends awaiting a provider reply",
		}),
		SubmitsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpinghand_submits_rejected_total",
			Help: "Total number of submissions refused, by reason",
		}, []string{"reason"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpinghand_provider_duration_seconds",
			Help:    "Time until the response provider settled",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ArchiveDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "helpinghand_archive_dropped_total",
			Help: "Transcript entries dropped because the archive queue was full",
		}),
	}
}

// ObserveSend records a settled send.
func (m *Metrics) ObserveSend(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// SessionEnded records a session leaving the manager.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// SendStarted and SendSettled track the in-flight gauge.
func (m *Metrics) SendStarted() {
	if m == nil {
		return
	}
	m.SendsInFlight.Inc()
}

func (m *Metrics) SendSettled() {
	if m == nil {
		return
	}
	m.SendsInFlight.Dec()
}

// SubmitRejected records a refused submission.
func (m *Metrics) SubmitRejected(reason string) {
	if m == nil {
		return
	}
	m.SubmitsRejected.WithLabelValues(reason).Inc()
}

// ArchiveDrop records a dropped transcript entry.
func (m *Metrics) ArchiveDrop() {
	if m == nil {
		return
	}
	m.ArchiveDropped.Inc()
}
