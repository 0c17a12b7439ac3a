// Package middleware provides the gin adapters that run every request
// through the security evaluation chain and decorate responses with
// the protection headers.
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
	"github.com/vyrodovalexey/avsecmw/internal/request"
	"github.com/vyrodovalexey/avsecmw/internal/security"
)

// IdentityKey is the gin context key holding the resolved identity on
// allowed requests.
const IdentityKey = "identity"

// DefaultMaxBodyBytes caps how much of the request body is buffered
// for threat scanning. Larger bodies are marked truncated and the
// scanner falls back to metadata heuristics.
const DefaultMaxBodyBytes = 64 << 10

// ProfileResolver maps a request to its endpoint security profile.
type ProfileResolver interface {
	// Resolve returns the profile for the method and path. Nil means
	// public.
	Resolve(method, path string) *request.EndpointProfile
}

// PipelineConfig holds configuration for the pipeline middleware.
type PipelineConfig struct {
	// Pipeline is the evaluation chain. Required.
	Pipeline *pipeline.Pipeline

	// Profiles resolves endpoint profiles. Nil treats everything as
	// public.
	Profiles ProfileResolver

	// Headers applies the security response header set. Nil skips it.
	Headers *security.Headers

	// Logger for adapter-level events.
	Logger observability.Logger

	// MaxBodyBytes caps the buffered scan body. Zero uses the default.
	MaxBodyBytes int64

	// SkipPaths bypass evaluation entirely (health and metrics
	// endpoints).
	SkipPaths []string
}

// Pipeline returns the middleware that evaluates every request through
// the security chain before the handler runs and reports the
// downstream outcome afterwards.
func Pipeline(config PipelineConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if config.Headers != nil {
			config.Headers.Apply(c.Writer.Header(), isSecure(c.Request))
		}

		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		desc := Descriptor(c, config.MaxBodyBytes)

		profile := request.PublicProfile()
		if config.Profiles != nil {
			if resolved := config.Profiles.Resolve(c.Request.Method, c.Request.URL.Path); resolved != nil {
				profile = resolved
			}
		}

		decision := config.Pipeline.Evaluate(c.Request.Context(), desc, profile)
		security.ApplyRateLimit(c.Writer.Header(), decision.RateResult)

		if !decision.Allowed {
			c.AbortWithStatusJSON(denyStatus(decision), gin.H{"error": decision.Message})
			return
		}

		if decision.Identity != nil {
			c.Set(IdentityKey, decision.Identity)
		}

		c.Next()

		outcome := pipeline.OutcomeDownstreamOK
		if c.Writer.Status() >= http.StatusInternalServerError {
			outcome = pipeline.OutcomeDownstreamError
		}
		decision.Complete(outcome)
	}
}

// Descriptor builds the pipeline's request descriptor from a gin
// context. The body is buffered up to maxBody bytes and handed back to
// the request untouched; anything larger is marked truncated and not
// buffered at all.
func Descriptor(c *gin.Context, maxBody int64) *request.Descriptor {
	desc := &request.Descriptor{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Query:      c.Request.URL.Query(),
		Headers:    c.Request.Header,
		ClientIP:   c.ClientIP(),
		ReceivedAt: time.Now(),
	}

	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return desc
	}

	buffered, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
	if err != nil {
		// A half-read body cannot be replayed; pass the error through
		// to the handler's own read.
		desc.BodyTruncated = true
		return desc
	}

	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buffered), c.Request.Body))

	if int64(len(buffered)) > maxBody {
		desc.BodyTruncated = true
		return desc
	}

	desc.Body = buffered
	return desc
}

// denyStatus maps a denial stage to its HTTP status.
func denyStatus(d *pipeline.Decision) int {
	switch d.Stage {
	case pipeline.StageRateLimit:
		return http.StatusTooManyRequests
	case pipeline.StageAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
