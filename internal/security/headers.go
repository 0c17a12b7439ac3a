package security

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
)

// Headers applies security response headers.
type Headers struct {
	config *Config
}

// NewHeaders creates a header applier. A nil config uses the defaults.
func NewHeaders(config *Config) *Headers {
	if config == nil {
		config = DefaultConfig()
	}
	return &Headers{config: config}
}

// Apply sets the configured security headers. secure indicates the
// request arrived over TLS; HSTS is only meaningful there.
func (h *Headers) Apply(header http.Header, secure bool) {
	if !h.config.Enabled {
		return
	}

	if h.config.XFrameOptions != "" {
		header.Set("X-Frame-Options", h.config.XFrameOptions)
	}
	if h.config.XContentTypeOptions != "" {
		header.Set("X-Content-Type-Options", h.config.XContentTypeOptions)
	}
	if h.config.XXSSProtection != "" {
		header.Set("X-XSS-Protection", h.config.XXSSProtection)
	}
	if h.config.ReferrerPolicy != "" {
		header.Set("Referrer-Policy", h.config.ReferrerPolicy)
	}
	if h.config.ContentSecurityPolicy != "" {
		header.Set("Content-Security-Policy", h.config.ContentSecurityPolicy)
	}
	if h.config.HSTS.Enabled && secure {
		header.Set("Strict-Transport-Security", h.hstsValue())
	}
	for name, value := range h.config.CustomHeaders {
		header.Set(name, value)
	}
}

func (h *Headers) hstsValue() string {
	var b strings.Builder
	b.WriteString("max-age=")
	b.WriteString(strconv.Itoa(h.config.HSTS.MaxAge))
	if h.config.HSTS.IncludeSubDomains {
		b.WriteString("; includeSubDomains")
	}
	if h.config.HSTS.Preload {
		b.WriteString("; preload")
	}
	return b.String()
}

// ApplyRateLimit sets the rate limit headers from a limiter result.
func ApplyRateLimit(header http.Header, result *ratelimit.Result) {
	if result == nil {
		return
	}

	header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetAfter.Seconds()+0.5), 10))
	if !result.Allowed && result.RetryAfter > 0 {
		secs := int64(result.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		header.Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// Handler wraps an http.Handler so that every response carries the
// security headers, including error responses written by next.
func (h *Headers) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Apply(w.Header(), isSecureRequest(r))
		next.ServeHTTP(w, r)
	})
}

// isSecureRequest checks whether the request arrived over HTTPS,
// directly or behind a TLS-terminating proxy.
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
