package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authorization decisions.
type Metrics struct {
	decisionTotal    *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
}

// NewMetrics creates authorization metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates authorization metrics registered with
// the provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "secmw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		decisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"outcome"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decision_duration_seconds",
				Help:      "Authorization decision duration in seconds",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
			[]string{"outcome"},
		),
	}

	registerer.MustRegister(m.decisionTotal, m.decisionDuration)

	return m
}

// RecordDecision records one authorization decision.
func (m *Metrics) RecordDecision(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
