// Package threat analyzes request descriptors for attack patterns and
// bot behavior. Detectors are independent, side-effect-free evaluators
// in a fixed registry; a broken detector degrades detection but never
// blocks traffic.
package threat

// Category classifies a finding.
type Category string

// Finding categories.
const (
	CategorySQLInjection  Category = "sql_injection"
	CategoryXSS           Category = "xss"
	CategoryPathTraversal Category = "path_traversal"
	CategoryBot           Category = "bot"
	CategoryMalformed     Category = "malformed"
	CategoryOther         Category = "other"
)

// Severity bounds.
const (
	SeverityMin = 1
	SeverityMax = 10
)

// Finding is one detector result. Findings are immutable, produced
// fresh per scan and persisted only through the audit trail.
type Finding struct {
	// Category classifies the finding.
	Category Category `json:"category"`

	// Severity is 1..10.
	Severity int `json:"severity"`

	// Confidence is 0.0..1.0 and reflects signature specificity.
	Confidence float64 `json:"confidence"`

	// MatchedSignal names the signal that fired: the signature name or
	// the header anomaly.
	MatchedSignal string `json:"matched_signal"`

	// Field is the input field the signal matched in (path, query
	// parameter name, header name, body).
	Field string `json:"field,omitempty"`
}

// MaxSeverity returns the highest severity across findings, zero when
// there are none.
func MaxSeverity(findings []Finding) int {
	max := 0
	for _, f := range findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// CountAtLeast counts findings with severity at or above the floor.
func CountAtLeast(findings []Finding, floor int) int {
	n := 0
	for _, f := range findings {
		if f.Severity >= floor {
			n++
		}
	}
	return n
}
