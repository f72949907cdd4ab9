package decision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks decision outcomes and latency
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	AuditAppendsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers decision metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"outcome", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_decision_duration_seconds",
				Help:    "Authorization decision duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_audit_appends_total",
				Help: "Total number of audit trail appends from decisions",
			},
			[]string{"status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.DecisionsTotal,
			m.DecisionDuration,
			m.AuditAppendsTotal,
		)
	}

	return m
}

func (m *Metrics) observe(d Decision, start time.Time) {
	if m == nil {
		return
	}

	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}

	m.DecisionsTotal.WithLabelValues(outcome, string(d.Reason)).Inc()
	m.DecisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeAudit(err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AuditAppendsTotal.WithLabelValues(status).Inc()
}
