package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the controller's Prometheus collectors.
type Metrics struct {
	DriftChecks *prometheus.CounterVec
	Applies     *prometheus.CounterVec
	LastApplied prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DriftChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdn",
			Name:      "drift_checks_total",
			Help:      "Number of drift checks, by result (drift, clean).",
		}, []string{"result"}),
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdn",
			Name:      "applies_total",
			Help:      "Number of apply requests, by outcome (applied, noop, invalid, failed).",
		}, []string{"outcome"}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdn",
			Name:      "last_applied_timestamp_seconds",
			Help:      "Unix time of the last successful apply.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DriftChecks, m.Applies, m.LastApplied)
	}
	return m
}
