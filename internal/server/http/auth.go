package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/auth/local"
	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
	mw "github.com/vyrodovalexey/avsecmw/internal/server/http/middleware"
)

// AuthHandler exposes login, token refresh and logout endpoints backed
// by local credential verification and the auth manager.
type AuthHandler struct {
	accounts *local.Authenticator
	manager  *auth.Manager
	trail    *audit.Trail
	logger   observability.Logger
}

// NewAuthHandler creates an AuthHandler. The trail may be nil, in which
// case login outcomes are not audited here.
func NewAuthHandler(accounts *local.Authenticator, manager *auth.Manager, trail *audit.Trail, logger observability.Logger) *AuthHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthHandler{
		accounts: accounts,
		manager:  manager,
		trail:    trail,
		logger:   logger,
	}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(group *gin.RouterGroup) {
	group.POST("/login", h.login)
	group.POST("/refresh", h.refresh)
	group.POST("/logout", h.logout)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	SessionID    string    `json:"session_id,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	account, err := h.accounts.Verify(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.recordLogin(c, req.Username, audit.OutcomeFailure, auth.ReasonOf(err))
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrAccountLocked) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": "unauthorized"})
		return
	}

	identity := &auth.Identity{
		Subject:     account.Subject,
		Username:    account.Username,
		Roles:       account.Roles,
		Permissions: rbac.PermissionsOfRoles(account.Roles),
		Method:      auth.MethodJWT,
	}

	meta := session.Metadata{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	sess, pair, err := h.manager.IssueSession(c.Request.Context(), identity, meta)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("session issuance failed",
			observability.String("subject", account.Subject),
			observability.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unauthorized"})
		return
	}

	h.recordLogin(c, account.Subject, audit.OutcomeSuccess, "")
	c.JSON(http.StatusOK, loginResponse{
		SessionID:    sess.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	pair, err := h.manager.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.record(c, audit.NewEvent(audit.CategoryAuthentication, audit.ActionTokenRefresh, audit.OutcomeFailure).
			WithLevel(audit.LevelWarning).
			WithIP(c.ClientIP()).
			WithDetail("reason", auth.ReasonOf(err)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.record(c, audit.NewEvent(audit.CategoryAuthentication, audit.ActionTokenRefresh, audit.OutcomeSuccess).
		WithIP(c.ClientIP()))
	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	identity := mw.GetIdentity(c)
	if identity == nil || identity.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active session"})
		return
	}

	if err := h.manager.RevokeSession(c.Request.Context(), identity.SessionID, "logout"); err != nil {
		h.logger.WithContext(c.Request.Context()).Error("logout failed",
			observability.String("session_id", identity.SessionID),
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.record(c, audit.NewEvent(audit.CategorySession, audit.ActionLogout, audit.OutcomeSuccess).
		WithSubject(identity.Subject).
		WithIP(c.ClientIP()))
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) recordLogin(c *gin.Context, subject string, outcome audit.Outcome, reason string) {
	event := audit.NewEvent(audit.CategoryAuthentication, audit.ActionLogin, outcome).
		WithSubject(subject).
		WithIP(c.ClientIP())
	if outcome != audit.OutcomeSuccess {
		event = event.WithLevel(audit.LevelWarning).WithDetail("reason", reason)
	}
	h.record(c, event)
}

func (h *AuthHandler) record(c *gin.Context, event *audit.Event) {
	if h.trail == nil {
		return
	}
	if _, err := h.trail.Record(c.Request.Context(), event); err != nil {
		h.logger.WithContext(c.Request.Context()).Error("audit record failed",
			observability.String("action", string(event.Action)),
			observability.Error(err),
		)
	}
}
