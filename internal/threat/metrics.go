package threat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the scanner.
type Metrics struct {
	findingsTotal  *prometheus.CounterVec
	detectorPanics *prometheus.CounterVec
}

// NewMetrics creates scanner metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates scanner metrics registered with the
// provided registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "secmw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "threat",
				Name:      "findings_total",
				Help:      "Total number of threat findings by category and severity",
			},
			[]string{"category", "severity"},
		),
		detectorPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "threat",
				Name:      "detector_panics_total",
				Help:      "Total number of recovered detector panics",
			},
			[]string{"detector"},
		),
	}

	registerer.MustRegister(m.findingsTotal, m.detectorPanics)

	return m
}

// RecordFinding records one finding.
func (m *Metrics) RecordFinding(category string, severity int) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(category, strconv.Itoa(severity)).Inc()
}

// RecordDetectorPanic records one recovered detector panic.
func (m *Metrics) RecordDetectorPanic(detector string) {
	if m == nil {
		return
	}
	m.detectorPanics.WithLabelValues(detector).Inc()
}
