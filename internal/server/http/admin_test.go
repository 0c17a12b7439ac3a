package http

import (
	"context"
	"encoding/json"
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
	"github.com/vyrodovalexey/avsecmw/internal/auth/apikey"
	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
	"github.com/vyrodovalexey/avsecmw/internal/reputation"
	"github.com/vyrodovalexey/avsecmw/internal/threat"
)

type adminFixture struct {
	engine     *gin.Engine
	reputation reputation.Store
	sessions   session.Store
	keys       apikey.Store
	trail      *audit.Trail
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repStore := reputation.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = repStore.Close() })

	rlStore := store.NewMemoryStoreWithCleanupInterval(time.Hour)
	t.Cleanup(func() { _ = rlStore.Close() })

	trail := audit.NewTrail(audit.NewMemoryStore())
	sessions := session.NewMemoryStore()
	keys := apikey.NewMemoryStore()

	p := pipeline.New(
		repStore,
		ratelimit.NewDualWindowLimiter(rlStore, &ratelimit.Config{PerMinute: 100, PerHour: 1000}),
		threat.NewScanner(threat.WithScannerMetrics(threat.NewMetricsWithRegisterer("test", prometheus.NewRegistry()))),
		auth.NewManager(auth.WithSessionStore(sessions)),
		rbac.NewEngine(rbac.WithEngineMetrics(rbac.NewMetricsWithRegisterer("test", prometheus.NewRegistry()))),
		trail,
	)

	assessor := audit.NewAssessor(trail, audit.NewConsentRegistry(trail), audit.DefaultRetentionPolicy())
	admin := pipeline.NewAdmin(p, sessions, keys, repStore, trail, assessor)

	engine := gin.New()
	NewAdminHandler(admin, nil).Register(engine.Group("/admin"))

	return &adminFixture{
		engine:     engine,
		reputation: repStore,
		sessions:   sessions,
		keys:       keys,
		trail:      trail,
	}
}

func (f *adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestAdmin_BlockAndUnblockIP(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	w := f.do(http.MethodPost, "/admin/reputation/block", `{"ip":"203.0.113.7","duration":"1h","reason":"abuse"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	blocked, err := f.reputation.IsBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)

	w = f.do(http.MethodGet, "/admin/reputation", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "203.0.113.7")

	w = f.do(http.MethodPost, "/admin/reputation/unblock", `{"ip":"203.0.113.7"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	blocked, err = f.reputation.IsBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)

	// Both actions landed on the trail.
	page, err := f.trail.Query(ctx, audit.Filter{Category: audit.CategorySecurity})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, audit.ActionIPBlock, page.Events[0].Action)
	assert.Equal(t, audit.ActionIPUnblock, page.Events[1].Action)
}

func TestAdmin_BlockIPValidation(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(http.MethodPost, "/admin/reputation/block", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/admin/reputation/block", `{"ip":"203.0.113.7","duration":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_SessionLifecycle(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Issue(ctx, "alice", time.Hour, session.Metadata{})
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/admin/sessions?subject=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), sess.ID)

	w = f.do(http.MethodDelete, "/admin/sessions/"+sess.ID+"?reason=compromised", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/admin/sessions/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/admin/sessions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_APIKeyLifecycle(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	issued, err := apikey.Issue(ctx, f.keys, apikey.SHA256Hasher{}, "bob", "ci", nil, nil, 0)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/admin/apikeys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), issued.Key.ID)

	w = f.do(http.MethodDelete, "/admin/apikeys/"+issued.Key.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/admin/apikeys/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_QueryAudit(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	_, err := f.trail.Record(ctx, audit.NewEvent(audit.CategorySecurity, audit.ActionIPBlock, audit.OutcomeSuccess).WithIP("203.0.113.7"))
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/admin/audit?category=security", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events     []audit.Event `json:"events"`
		NextCursor string        `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, audit.ActionIPBlock, resp.Events[0].Action)

	w = f.do(http.MethodGet, "/admin/audit?cursor=garbage", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/admin/audit?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_ComplianceAssessment(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(http.MethodPost, "/admin/compliance/gdpr", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report audit.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, audit.FrameworkGDPR, report.Framework)
	assert.NotEmpty(t, report.Checks)

	w = f.do(http.MethodPost, "/admin/compliance/pci", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.Processed)
}
