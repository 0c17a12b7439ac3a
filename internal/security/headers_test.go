package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
)

func TestHeaders_ApplyDefaults(t *testing.T) {
	h := NewHeaders(nil)
	header := http.Header{}

	h.Apply(header, true)

	assert.Equal(t, "DENY", header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))
	assert.Equal(t, "1; mode=block", header.Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", header.Get("Referrer-Policy"))
	assert.Contains(t, header.Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "max-age=31536000; includeSubDomains", header.Get("Strict-Transport-Security"))
}

func TestHeaders_HSTSOnlyOverTLS(t *testing.T) {
	h := NewHeaders(nil)
	header := http.Header{}

	h.Apply(header, false)

	assert.Empty(t, header.Get("Strict-Transport-Security"))
	assert.Equal(t, "DENY", header.Get("X-Frame-Options"))
}

func TestHeaders_Disabled(t *testing.T) {
	h := NewHeaders(&Config{Enabled: false})
	header := http.Header{}

	h.Apply(header, true)

	assert.Empty(t, header)
}

func TestHeaders_CustomHeaders(t *testing.T) {
	h := NewHeaders(&Config{
		Enabled:       true,
		CustomHeaders: map[string]string{"X-Service": "secmw"},
	})
	header := http.Header{}

	h.Apply(header, false)

	assert.Equal(t, "secmw", header.Get("X-Service"))
}

func TestApplyRateLimit(t *testing.T) {
	header := http.Header{}
	ApplyRateLimit(header, &ratelimit.Result{
		Allowed:    true,
		Limit:      60,
		Remaining:  12,
		ResetAfter: 30 * time.Second,
	})

	assert.Equal(t, "60", header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "12", header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", header.Get("X-RateLimit-Reset"))
	assert.Empty(t, header.Get("Retry-After"))
}

func TestApplyRateLimit_Denied(t *testing.T) {
	header := http.Header{}
	ApplyRateLimit(header, &ratelimit.Result{
		Allowed:    false,
		Limit:      60,
		Remaining:  0,
		ResetAfter: 45 * time.Second,
		RetryAfter: 45 * time.Second,
	})

	assert.Equal(t, "45", header.Get("Retry-After"))
	assert.Equal(t, "0", header.Get("X-RateLimit-Remaining"))
}

func TestApplyRateLimit_SubSecondRetryRoundsUp(t *testing.T) {
	header := http.Header{}
	ApplyRateLimit(header, &ratelimit.Result{
		Allowed:    false,
		Limit:      60,
		RetryAfter: 200 * time.Millisecond,
	})

	assert.Equal(t, "1", header.Get("Retry-After"))
}

func TestHeaders_Handler(t *testing.T) {
	h := NewHeaders(nil)
	handler := h.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
