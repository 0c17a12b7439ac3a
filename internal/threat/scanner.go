package threat

import (
	"context"
	"sync"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/request"
)

// Scanner runs the detector registry against request descriptors.
type Scanner interface {
	// Scan runs all detectors and returns their combined findings,
	// unsorted. A panicking detector contributes zero findings.
	Scan(ctx context.Context, desc *request.Descriptor) []Finding
}

// scanner implements the Scanner interface.
type scanner struct {
	detectors []Detector
	logger    observability.Logger
	metrics   *Metrics
}

// ScannerOption is a functional option for the scanner.
type ScannerOption func(*scanner)

// WithScannerLogger sets the logger.
func WithScannerLogger(logger observability.Logger) ScannerOption {
	return func(s *scanner) {
		s.logger = logger
	}
}

// WithScannerMetrics sets the metrics.
func WithScannerMetrics(metrics *Metrics) ScannerOption {
	return func(s *scanner) {
		s.metrics = metrics
	}
}

// WithDetectors replaces the detector registry.
func WithDetectors(detectors []Detector) ScannerOption {
	return func(s *scanner) {
		s.detectors = detectors
	}
}

// NewScanner creates a scanner with the default detector registry.
func NewScanner(opts ...ScannerOption) Scanner {
	s := &scanner{
		detectors: DefaultDetectors(),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics("secmw")
	}

	return s
}

// Scan runs all detectors concurrently and merges their findings.
func (s *scanner) Scan(ctx context.Context, desc *request.Descriptor) []Finding {
	results := make([][]Finding, len(s.detectors))

	var wg sync.WaitGroup
	for i, detector := range s.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			results[i] = s.runDetector(ctx, d, desc)
		}(i, detector)
	}
	wg.Wait()

	var findings []Finding
	for _, r := range results {
		findings = append(findings, r...)
	}

	for _, f := range findings {
		s.metrics.RecordFinding(string(f.Category), f.Severity)
	}

	return findings
}

// runDetector invokes one detector, converting a panic into a logged
// scanner-internal error and zero findings.
func (s *scanner) runDetector(ctx context.Context, d Detector, desc *request.Descriptor) (findings []Finding) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordDetectorPanic(d.Name)
			s.logger.WithContext(ctx).Error("detector panicked",
				observability.String("detector", d.Name),
				observability.Any("panic", r),
			)
			findings = nil
		}
	}()

	return d.Scan(desc)
}
