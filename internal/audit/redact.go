package audit

import "strings"

const redactedValue = "[REDACTED]"

// defaultRedactFields are detail keys whose values never reach the
// trail in the clear. Matching is case-insensitive and by substring,
// so "x-api-key" and "refresh_token" are both caught.
var defaultRedactFields = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"password",
	"secret",
	"token",
	"api_key",
	"api-key",
	"credential",
	"private_key",
}

// redactor hides sensitive detail values.
type redactor struct {
	fields []string
}

func newRedactor(extra []string) *redactor {
	fields := make([]string, 0, len(defaultRedactFields)+len(extra))
	fields = append(fields, defaultRedactFields...)
	fields = append(fields, extra...)
	return &redactor{fields: fields}
}

func (r *redactor) shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range r.fields {
		if strings.Contains(lower, strings.ToLower(field)) {
			return true
		}
	}
	return false
}

// redactEvent replaces sensitive detail values in place. Nested header
// maps are redacted per key.
func (r *redactor) redactEvent(e *Event) {
	for key, value := range e.Details {
		if r.shouldRedact(key) {
			e.Details[key] = redactedValue
			continue
		}
		if headers, ok := value.(map[string]string); ok {
			for hk := range headers {
				if r.shouldRedact(hk) {
					headers[hk] = redactedValue
				}
			}
		}
	}
}
