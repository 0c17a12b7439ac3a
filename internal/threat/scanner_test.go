package threat

import (
	"context"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avsecmw/internal/request"
)

func newTestScanner(t *testing.T, opts ...ScannerOption) Scanner {
	t.Helper()
	metrics := NewMetricsWithRegisterer("test", prometheus.NewRegistry())
	return NewScanner(append(opts, WithScannerMetrics(metrics))...)
}

func browserDescriptor() *request.Descriptor {
	return &request.Descriptor{
		Method: "GET",
		Path:   "/v1/items",
		Query:  url.Values{},
		Headers: map[string][]string{
			"User-Agent":      {"Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0"},
			"Accept":          {"text/html"},
			"Accept-Language": {"en-US"},
		},
	}
}

func findingsIn(findings []Finding, category Category) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// The canonical SQL injection probe must produce a high-severity
// sql_injection finding.
func TestScan_SQLInjection(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Query = url.Values{"name": {"' OR '1'='1"}}

	findings := scanner.Scan(context.Background(), desc)
	sql := findingsIn(findings, CategorySQLInjection)
	require.NotEmpty(t, sql)
	assert.GreaterOrEqual(t, MaxSeverity(sql), 8)
	assert.Equal(t, "query.name", sql[0].Field)
}

func TestScan_SQLInjectionVariants(t *testing.T) {
	scanner := newTestScanner(t)

	tests := []struct {
		name        string
		input       string
		minSeverity int
	}{
		{"union select", "1 UNION SELECT username, password FROM users", 9},
		{"stacked drop", "x'; DROP TABLE users; --", 9},
		{"time based", "1 AND sleep(5)", 8},
		{"lone quote", "O'Brien", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := browserDescriptor()
			desc.Query = url.Values{"q": {tt.input}}

			findings := findingsIn(scanner.Scan(context.Background(), desc), CategorySQLInjection)
			require.NotEmpty(t, findings)
			assert.GreaterOrEqual(t, MaxSeverity(findings), tt.minSeverity)
		})
	}
}

// A lone apostrophe is reported with low severity and low confidence,
// not as an attack.
func TestScan_LoneQuoteIsLowConfidence(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Query = url.Values{"name": {"O'Brien"}}

	findings := findingsIn(scanner.Scan(context.Background(), desc), CategorySQLInjection)
	require.Len(t, findings, 1)
	assert.LessOrEqual(t, findings[0].Severity, 3)
	assert.LessOrEqual(t, findings[0].Confidence, 0.3)
}

func TestScan_XSS(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Body = []byte(`{"comment": "<script>alert(1)</script>"}`)

	findings := findingsIn(scanner.Scan(context.Background(), desc), CategoryXSS)
	require.NotEmpty(t, findings)
	assert.GreaterOrEqual(t, MaxSeverity(findings), 8)
}

func TestScan_PathTraversal(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Path = "/files/../../etc/passwd"

	findings := findingsIn(scanner.Scan(context.Background(), desc), CategoryPathTraversal)
	require.NotEmpty(t, findings)
	assert.GreaterOrEqual(t, MaxSeverity(findings), 8)
}

func TestScan_Bot(t *testing.T) {
	scanner := newTestScanner(t)

	desc := &request.Descriptor{
		Method: "GET",
		Path:   "/v1/items",
		Headers: map[string][]string{
			"User-Agent": {"curl/8.0.1"},
		},
	}

	findings := findingsIn(scanner.Scan(context.Background(), desc), CategoryBot)
	require.Len(t, findings, 1)
	// Library UA plus two missing browser headers: three signals.
	assert.GreaterOrEqual(t, findings[0].Severity, 6)
}

// A browser missing only Accept-Language is not reported; a matched
// bot user agent is, even with full browser headers.
func TestScan_BotSignalThreshold(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	delete(desc.Headers, "Accept-Language")
	assert.Empty(t, findingsIn(scanner.Scan(context.Background(), desc), CategoryBot))

	desc = browserDescriptor()
	desc.Headers["User-Agent"] = []string{"python-requests/2.32"}
	findings := findingsIn(scanner.Scan(context.Background(), desc), CategoryBot)
	require.Len(t, findings, 1)
	assert.Equal(t, 2, findings[0].Severity)
}

func TestScan_CleanBrowserRequest(t *testing.T) {
	scanner := newTestScanner(t)

	findings := scanner.Scan(context.Background(), browserDescriptor())
	assert.Empty(t, findings)
}

// Empty body produces no injection findings.
func TestScan_EmptyBody(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Body = nil

	findings := scanner.Scan(context.Background(), desc)
	assert.Empty(t, findingsIn(findings, CategorySQLInjection))
	assert.Empty(t, findingsIn(findings, CategoryXSS))
}

// Invalid UTF-8 yields a low-confidence malformed finding, not a crash.
func TestScan_InvalidUTF8(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Body = []byte{0xff, 0xfe, 0x01}

	findings := findingsIn(scanner.Scan(context.Background(), desc), CategoryMalformed)
	require.NotEmpty(t, findings)
	assert.LessOrEqual(t, findings[0].Confidence, 0.5)
}

// Truncated bodies are only scanned by metadata heuristics.
func TestScan_TruncatedBodySkipsContent(t *testing.T) {
	scanner := newTestScanner(t)

	desc := browserDescriptor()
	desc.Body = []byte("' OR '1'='1")
	desc.BodyTruncated = true

	findings := scanner.Scan(context.Background(), desc)
	assert.Empty(t, findingsIn(findings, CategorySQLInjection))
}

// A panicking detector is recovered and contributes zero findings.
func TestScan_DetectorPanicRecovered(t *testing.T) {
	detectors := append(DefaultDetectors(), Detector{
		Name: "broken",
		Scan: func(*request.Descriptor) []Finding {
			panic("boom")
		},
	})
	scanner := newTestScanner(t, WithDetectors(detectors))

	desc := browserDescriptor()
	desc.Query = url.Values{"q": {"1 UNION SELECT 1,2"}}

	findings := scanner.Scan(context.Background(), desc)
	assert.NotEmpty(t, findingsIn(findings, CategorySQLInjection),
		"healthy detectors keep working")
}

func TestMaxSeverityAndCountAtLeast(t *testing.T) {
	findings := []Finding{
		{Severity: 3},
		{Severity: 9},
		{Severity: 8},
	}
	assert.Equal(t, 9, MaxSeverity(findings))
	assert.Equal(t, 2, CountAtLeast(findings, 8))
	assert.Equal(t, 0, MaxSeverity(nil))
}
