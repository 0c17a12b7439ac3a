package rbac

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Decision represents an authorization decision.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Reason is the reason for the decision.
	Reason string
}

// Request represents an authorization request.
type Request struct {
	// Subject is the subject making the request.
	Subject string

	// Roles is the list of roles the subject has.
	Roles []Role

	// Scopes restricts the effective permissions. API key credentials
	// set this to the key's scope set; an empty slice means no
	// restriction. Scoped credentials can only ever narrow the
	// subject's permissions, never widen them.
	Scopes []Permission

	// Required is the permission the endpoint requires.
	Required Permission
}

// Engine authorizes requests against the static role table.
type Engine interface {
	// Authorize decides whether the request's roles and scopes grant
	// the required permission.
	Authorize(ctx context.Context, req *Request) *Decision
}

// engine implements the Engine interface.
type engine struct {
	logger  observability.Logger
	metrics *Metrics
}

// EngineOption is a functional option for the engine.
type EngineOption func(*engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics.
func WithEngineMetrics(metrics *Metrics) EngineOption {
	return func(e *engine) {
		e.metrics = metrics
	}
}

// NewEngine creates a new RBAC engine.
func NewEngine(opts ...EngineOption) Engine {
	e := &engine{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics("secmw")
	}

	return e
}

// Authorize decides whether the request's roles and scopes grant the
// required permission.
func (e *engine) Authorize(ctx context.Context, req *Request) *Decision {
	start := time.Now()

	decision := e.evaluate(req)

	outcome := "deny"
	if decision.Allowed {
		outcome = "allow"
	}
	e.metrics.RecordDecision(outcome, time.Since(start))

	if !decision.Allowed {
		e.logger.WithContext(ctx).Debug("authorization denied",
			observability.String("subject", req.Subject),
			observability.String("required", string(req.Required)),
			observability.String("reason", decision.Reason),
		)
	}

	return decision
}

func (e *engine) evaluate(req *Request) *Decision {
	if req.Required == "" {
		return &Decision{Allowed: true, Reason: "no permission required"}
	}

	if !hasPermission(PermissionsOfRoles(req.Roles), req.Required) {
		return &Decision{Allowed: false, Reason: "permission not granted by roles"}
	}

	// Scoped credentials narrow the effective set.
	if len(req.Scopes) > 0 && !hasPermission(req.Scopes, req.Required) {
		return &Decision{Allowed: false, Reason: "permission outside credential scope"}
	}

	return &Decision{Allowed: true, Reason: "permission granted"}
}

func hasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required || p == PermissionAdmin {
			return true
		}
	}
	return false
}
