package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth/apikey"
	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
)

// AdminHandler exposes the administrative surface over HTTP. Routes
// are expected to be mounted behind a high-security endpoint profile.
type AdminHandler struct {
	admin  *pipeline.Admin
	logger observability.Logger
}

// NewAdminHandler creates the admin HTTP handler.
func NewAdminHandler(admin *pipeline.Admin, logger observability.Logger) *AdminHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AdminHandler{admin: admin, logger: logger}
}

// Register mounts the admin routes on the group.
func (h *AdminHandler) Register(group *gin.RouterGroup) {
	group.GET("/sessions", h.listSessions)
	group.DELETE("/sessions/:id", h.revokeSession)
	group.GET("/apikeys", h.listAPIKeys)
	group.DELETE("/apikeys/:id", h.revokeAPIKey)
	group.GET("/reputation", h.listReputation)
	group.POST("/reputation/block", h.blockIP)
	group.POST("/reputation/unblock", h.unblockIP)
	group.GET("/audit", h.queryAudit)
	group.POST("/compliance/:framework", h.assess)
	group.GET("/stats", h.stats)
}

func (h *AdminHandler) listSessions(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	sessions, err := h.admin.Sessions(c.Request.Context(), subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *AdminHandler) revokeSession(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "admin revocation"
	}

	err := h.admin.RevokeSession(c.Request.Context(), c.Param("id"), reason)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) listAPIKeys(c *gin.Context) {
	keys, err := h.admin.APIKeys(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *AdminHandler) revokeAPIKey(c *gin.Context) {
	err := h.admin.RevokeAPIKey(c.Request.Context(), c.Param("id"))
	if errors.Is(err, apikey.ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) listReputation(c *gin.Context) {
	entries, err := h.admin.ReputationEntries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type blockRequest struct {
	IP       string `json:"ip" binding:"required"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

func (h *AdminHandler) blockIP(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
		duration = parsed
	}

	if err := h.admin.BlockIP(c.Request.Context(), req.IP, duration, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type unblockRequest struct {
	IP string `json:"ip" binding:"required"`
}

func (h *AdminHandler) unblockIP(c *gin.Context) {
	var req unblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}

	if err := h.admin.UnblockIP(c.Request.Context(), req.IP); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) queryAudit(c *gin.Context) {
	filter := audit.Filter{
		Subject:  c.Query("subject"),
		Action:   audit.Action(c.Query("action")),
		Category: audit.Category(c.Query("category")),
		Cursor:   c.Query("cursor"),
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filter.To = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	page, err := h.admin.QueryAudit(c.Request.Context(), filter)
	if errors.Is(err, audit.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": page.Events, "next_cursor": page.NextCursor})
}

func (h *AdminHandler) assess(c *gin.Context) {
	framework := audit.Framework(c.Param("framework"))
	report, err := h.admin.Assess(c.Request.Context(), framework)
	if err != nil {
		// Unknown frameworks are a client error; a trail write failure
		// is internal.
		if errors.Is(err, audit.ErrWriteFailed) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.admin.Stats())
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	h.logger.WithContext(c.Request.Context()).Error("admin request failed",
		observability.String("path", c.Request.URL.Path),
		observability.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
