package threat

import (
	"strings"
	"unicode/utf8"

	"github.com/vyrodovalexey/avsecmw/internal/request"
)

// Detector is one independent, side-effect-free evaluator. Detectors
// run concurrently within a scan; ordering affects only latency, never
// the result set.
type Detector struct {
	// Name identifies the detector in logs and metrics.
	Name string

	// Scan analyzes the descriptor and returns zero or more findings.
	Scan func(desc *request.Descriptor) []Finding
}

// DefaultDetectors returns the built-in detector registry.
func DefaultDetectors() []Detector {
	return []Detector{
		{Name: "sql_injection", Scan: signatureDetector(sqlSignatures)},
		{Name: "xss", Scan: signatureDetector(xssSignatures)},
		{Name: "path_traversal", Scan: signatureDetector(traversalSignatures)},
		{Name: "bot", Scan: detectBot},
		{Name: "encoding", Scan: detectMalformed},
	}
}

// inputField is one string-valued input to match signatures against.
type inputField struct {
	name  string
	value string
}

// stringInputs flattens the descriptor into the fields signatures are
// matched against. Truncated bodies are excluded; those requests are
// covered by header and metadata heuristics only.
func stringInputs(desc *request.Descriptor) []inputField {
	fields := []inputField{{name: "path", value: desc.Path}}

	for name, values := range desc.Query {
		for _, value := range values {
			fields = append(fields, inputField{name: "query." + name, value: value})
		}
	}

	for name, values := range desc.Headers {
		// Authorization values are opaque credentials, not attack
		// surface for injection signatures.
		if name == "Authorization" || name == "Cookie" {
			continue
		}
		for _, value := range values {
			fields = append(fields, inputField{name: "header." + name, value: value})
		}
	}

	if len(desc.Body) > 0 && !desc.BodyTruncated {
		fields = append(fields, inputField{name: "body", value: string(desc.Body)})
	}

	return fields
}

// signatureDetector builds a detector that matches a signature set
// against every string input. Each field reports at most its strongest
// matching signature so a lone quote does not pile up on top of a full
// UNION SELECT match.
func signatureDetector(signatures []signature) func(*request.Descriptor) []Finding {
	return func(desc *request.Descriptor) []Finding {
		var findings []Finding
		for _, field := range stringInputs(desc) {
			if field.value == "" {
				continue
			}
			best := -1
			for i, sig := range signatures {
				if sig.pattern.MatchString(field.value) {
					if best < 0 || sig.severity > signatures[best].severity {
						best = i
					}
				}
			}
			if best >= 0 {
				sig := signatures[best]
				findings = append(findings, Finding{
					Category:      sig.category,
					Severity:      sig.severity,
					Confidence:    sig.confidence,
					MatchedSignal: sig.name,
					Field:         field.name,
				})
			}
		}
		return findings
	}
}

// detectBot flags known bot user agents and header combinations
// inconsistent with a real browser. Severity scales with the number of
// agreeing signals.
func detectBot(desc *request.Descriptor) []Finding {
	var signals []string

	var knownBot bool
	ua := strings.ToLower(desc.UserAgent())
	switch {
	case ua == "":
		signals = append(signals, "missing_user_agent")
	default:
		for _, bot := range botUserAgents {
			if strings.Contains(ua, bot) {
				signals = append(signals, "bot_user_agent:"+bot)
				knownBot = true
				break
			}
		}
	}

	if desc.Header("Accept") == "" {
		signals = append(signals, "missing_accept")
	}
	if desc.Header("Accept-Language") == "" {
		signals = append(signals, "missing_accept_language")
	}

	// One weak signal alone (a browser with no Accept-Language) is not
	// worth reporting; agreement across signals is. A matched bot user
	// agent is strong enough to stand alone.
	if len(signals) < 2 && !knownBot {
		return nil
	}

	severity := 2 * len(signals)
	if severity > SeverityMax {
		severity = SeverityMax
	}
	confidence := 0.3 * float64(len(signals))
	if confidence > 0.9 {
		confidence = 0.9
	}

	return []Finding{{
		Category:      CategoryBot,
		Severity:      severity,
		Confidence:    confidence,
		MatchedSignal: strings.Join(signals, ","),
		Field:         "headers",
	}}
}

// detectMalformed flags non-UTF8 input as a low-confidence finding
// instead of letting it reach string matching undefined.
func detectMalformed(desc *request.Descriptor) []Finding {
	var findings []Finding

	if len(desc.Body) > 0 && !desc.BodyTruncated && !utf8.Valid(desc.Body) {
		findings = append(findings, Finding{
			Category:      CategoryMalformed,
			Severity:      3,
			Confidence:    0.4,
			MatchedSignal: "invalid_utf8_body",
			Field:         "body",
		})
	}

	if !utf8.ValidString(desc.Path) {
		findings = append(findings, Finding{
			Category:      CategoryMalformed,
			Severity:      3,
			Confidence:    0.4,
			MatchedSignal: "invalid_utf8_path",
			Field:         "path",
		})
	}

	return findings
}
