package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/soctriage/internal/incident"
)

// Hooks are optional callbacks fired by the Service. Nil fields are skipped.
type Hooks struct {
	OnTriage     func(d incident.Decision, elapsed time.Duration)
	OnRejected   func()
	OnAuditError func()
	OnEvidence   func(outcome string, hits int)
	OnNotify     func(outcome string)
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal       *prometheus.CounterVec
	TriageDuration     prometheus.Histogram
	RejectedTotal      prometheus.Counter
	AuditErrorsTotal   prometheus.Counter
	EvidenceTotal      *prometheus.CounterVec
	EvidenceHits       prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soctriage_triages_total",
			Help: "Total triage decisions by category, severity and route.",
		}, []string{"category", "severity", "route"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soctriage_triage_duration_seconds",
			Help:    "Duration of triage requests including the audit write.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soctriage_triage_rejected_total",
			Help: "Triage requests rejected by validation.",
		}),
		AuditErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soctriage_audit_write_errors_total",
			Help: "Failed audit appends.",
		}),
		EvidenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soctriage_evidence_requests_total",
			Help: "Evidence lookups by outcome.",
		}, []string{"outcome"}),
		EvidenceHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soctriage_evidence_hits",
			Help:    "Hits returned per evidence lookup.",
			Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 .. 20
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soctriage_notifications_total",
			Help: "Notifications sent by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.RejectedTotal,
		m.AuditErrorsTotal,
		m.EvidenceTotal,
		m.EvidenceHits,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnTriage: func(d incident.Decision, elapsed time.Duration) {
			m.TriagesTotal.WithLabelValues(string(d.Category), string(d.Severity), d.RuleTag).Inc()
			m.TriageDuration.Observe(elapsed.Seconds())
		},
		OnRejected:   m.RejectedTotal.Inc,
		OnAuditError: m.AuditErrorsTotal.Inc,
		OnEvidence: func(outcome string, hits int) {
			m.EvidenceTotal.WithLabelValues(outcome).Inc()
			m.EvidenceHits.Observe(float64(hits))
		},
		OnNotify: func(outcome string) {
			m.NotificationsTotal.WithLabelValues(outcome).Inc()
		},
	}
}
