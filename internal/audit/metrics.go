package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	writeFailuresTotal prometheus.Counter
	reapedTotal        prometheus.Counter
}

// NewMetrics creates audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates audit metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "secmw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events recorded",
			},
			[]string{"category", "outcome"},
		),
		writeFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Total number of audit events that could not be written",
			},
		),
		reapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "reaped_events_total",
				Help:      "Total number of audit events removed by retention",
			},
		),
	}

	registerer.MustRegister(m.eventsTotal, m.writeFailuresTotal, m.reapedTotal)

	return m
}

// RecordEvent records one successful audit write.
func (m *Metrics) RecordEvent(category Category, outcome Outcome) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(category), string(outcome)).Inc()
}

// RecordWriteFailure records one failed audit write.
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.writeFailuresTotal.Inc()
}

// RecordReaped records events removed by the retention reaper.
func (m *Metrics) RecordReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reapedTotal.Add(float64(n))
}
