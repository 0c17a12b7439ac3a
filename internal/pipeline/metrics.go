package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for pipeline evaluations.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	denialsTotal       *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	completionsTotal   *prometheus.CounterVec
	checkErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates pipeline metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates pipeline metrics registered with
// the provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "secmw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "evaluations_total",
				Help:      "Total number of pipeline evaluations",
			},
			[]string{"outcome"},
		),
		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "denials_total",
				Help:      "Total number of denials by stage",
			},
			[]string{"stage"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "evaluation_duration_seconds",
				Help:      "Pipeline evaluation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		completionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "completions_total",
				Help:      "Total number of downstream completions by outcome",
			},
			[]string{"outcome"},
		),
		checkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "check_errors_total",
				Help:      "Total number of degraded checks by dependency",
			},
			[]string{"dependency"},
		),
	}

	registerer.MustRegister(
		m.evaluationsTotal,
		m.denialsTotal,
		m.evaluationDuration,
		m.completionsTotal,
		m.checkErrorsTotal,
	)

	return m
}

// RecordEvaluation records one completed evaluation.
func (m *Metrics) RecordEvaluation(outcome, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
	if stage != "" {
		m.denialsTotal.WithLabelValues(stage).Inc()
	}
	m.evaluationDuration.Observe(elapsed.Seconds())
}

// RecordCompletion records one downstream completion.
func (m *Metrics) RecordCompletion(outcome string) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCheckError records one degraded dependency check.
func (m *Metrics) RecordCheckError(dependency string) {
	if m == nil {
		return
	}
	m.checkErrorsTotal.WithLabelValues(dependency).Inc()
}
