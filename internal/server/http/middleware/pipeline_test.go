package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
	"github.com/vyrodovalexey/avsecmw/internal/reputation"
	"github.com/vyrodovalexey/avsecmw/internal/request"
	"github.com/vyrodovalexey/avsecmw/internal/security"
	"github.com/vyrodovalexey/avsecmw/internal/threat"
)

type staticProfiles struct {
	profile *request.EndpointProfile
}

func (s staticProfiles) Resolve(method, path string) *request.EndpointProfile {
	return s.profile
}

type chain struct {
	engine     *gin.Engine
	reputation reputation.Store
	audit      *audit.MemoryStore
}

func newTestChain(t *testing.T, profiles ProfileResolver, rate *ratelimit.Config) *chain {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if rate == nil {
		rate = &ratelimit.Config{
			PerMinute:           100,
			PerHour:             1000,
			EscalationThreshold: 1000,
			EscalationWindow:    time.Minute,
		}
	}

	repStore := reputation.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = repStore.Close() })

	rlStore := store.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = rlStore.Close() })

	auditStore := audit.NewMemoryStore()

	p := pipeline.New(
		repStore,
		ratelimit.NewDualWindowLimiter(rlStore, rate),
		threat.NewScanner(threat.WithScannerMetrics(threat.NewMetricsWithRegisterer("test", prometheus.NewRegistry()))),
		auth.NewManager(),
		rbac.NewEngine(rbac.WithEngineMetrics(rbac.NewMetricsWithRegisterer("test", prometheus.NewRegistry()))),
		audit.NewTrail(auditStore),
	)

	engine := gin.New()
	engine.Use(Pipeline(PipelineConfig{
		Pipeline:  p,
		Profiles:  profiles,
		Headers:   security.NewHeaders(security.DefaultConfig()),
		SkipPaths: []string{"/healthz"},
	}))
	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/items", func(c *gin.Context) { c.String(http.StatusOK, "items") })
	engine.POST("/items", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, string(body))
	})

	return &chain{engine: engine, reputation: repStore, audit: auditStore}
}

func doRequest(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "192.0.2.1:51000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0")
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestPipelineMiddleware_Allowed(t *testing.T) {
	c := newTestChain(t, nil, nil)

	w := doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/items", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "items", w.Body.String())
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
}

func TestPipelineMiddleware_BlockedIP(t *testing.T) {
	c := newTestChain(t, nil, nil)
	require.NoError(t, c.reputation.Block(context.Background(), "192.0.2.1", time.Hour, "test"))

	w := doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/items", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"blocked"}`, w.Body.String())
	// The header set is applied on denials too.
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestPipelineMiddleware_RateLimited(t *testing.T) {
	c := newTestChain(t, nil, &ratelimit.Config{
		PerMinute:           1,
		PerHour:             100,
		EscalationThreshold: 1000,
		EscalationWindow:    time.Minute,
	})

	w := doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/items", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/items", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limited"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestPipelineMiddleware_AuthRequired(t *testing.T) {
	c := newTestChain(t, staticProfiles{profile: &request.EndpointProfile{
		RequiresAuth:  true,
		SecurityLevel: request.SecurityLevelStandard,
	}}, nil)

	w := doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/items", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
}

func TestPipelineMiddleware_SkipPaths(t *testing.T) {
	c := newTestChain(t, nil, nil)
	require.NoError(t, c.reputation.Block(context.Background(), "192.0.2.1", time.Hour, "test"))

	w := doRequest(c.engine, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineMiddleware_BodyScanned(t *testing.T) {
	c := newTestChain(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name": "x' OR '1'='1"}`))
	w := doRequest(c.engine, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, w.Body.String())
}

// The scan buffer must not consume the body the handler reads.
func TestPipelineMiddleware_BodyReplayed(t *testing.T) {
	c := newTestChain(t, nil, nil)

	payload := `{"name": "ordinary payload"}`
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(payload))
	w := doRequest(c.engine, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.String())
}

func TestDescriptor_TruncatesLargeBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	body := strings.Repeat("a", 100)
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:51000"

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	desc := Descriptor(c, 10)

	assert.True(t, desc.BodyTruncated)
	assert.Empty(t, desc.Body)

	// The handler still reads the whole body.
	replayed, err := io.ReadAll(c.Request.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replayed))
}

func TestDescriptor_BuffersSmallBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodPost, "/items?tag=a", strings.NewReader("hello"))
	req.RemoteAddr = "192.0.2.1:51000"

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	desc := Descriptor(c, DefaultMaxBodyBytes)

	assert.False(t, desc.BodyTruncated)
	assert.Equal(t, "hello", string(desc.Body))
	assert.Equal(t, http.MethodPost, desc.Method)
	assert.Equal(t, "/items", desc.Path)
	assert.Equal(t, "a", desc.Query.Get("tag"))
	assert.Equal(t, "192.0.2.1", desc.ClientIP)
}
