package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for rate limit checks.
type Metrics struct {
	checksTotal      *prometheus.CounterVec
	storeErrorsTotal prometheus.Counter
	escalationsTotal prometheus.Counter
}

// NewMetrics creates rate limit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates rate limit metrics registered with
// the provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "secmw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "checks_total",
				Help:      "Total number of rate limit window checks",
			},
			[]string{"window", "outcome"},
		),
		storeErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "store_errors_total",
				Help:      "Total number of counter store failures",
			},
		),
		escalationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "escalations_total",
				Help:      "Total number of consecutive-denial escalations",
			},
		),
	}

	registerer.MustRegister(m.checksTotal, m.storeErrorsTotal, m.escalationsTotal)

	return m
}

// RecordCheck records one window check.
func (m *Metrics) RecordCheck(window, outcome string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(window, outcome).Inc()
}

// RecordStoreError records one counter store failure.
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.storeErrorsTotal.Inc()
}

// RecordEscalation records one consecutive-denial escalation.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}
