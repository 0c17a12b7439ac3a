package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	"github.com/vyrodovalexey/avsecmw/internal/threat"
)

// State is a position in the evaluation chain.
type State string

// States.
const (
	StateReceived      State = "received"
	StateIPChecked     State = "ip_checked"
	StateRateChecked   State = "rate_checked"
	StateScanned       State = "scanned"
	StateAuthenticated State = "authenticated"
	StateAuthorized    State = "authorized"
	StateAllowed       State = "allowed"
	StateDenied        State = "denied"
)

// Stage names the check that denied a request.
type Stage string

// Deny stages.
const (
	StageIP             Stage = "ip"
	StageRateLimit      Stage = "rate_limit"
	StageThreat         Stage = "threat"
	StageAuthentication Stage = "authentication"
	StageAuthorization  Stage = "authorization"
	StageAudit          Stage = "audit"
)

// Uniform user-visible messages. Denial details stay in the audit
// trail; clients only ever see these.
const (
	messageBlocked      = "blocked"
	messageRateLimited  = "rate limited"
	messageUnauthorized = "unauthorized"
	messageForbidden    = "forbidden"
)

// Outcome describes how the downstream handler finished, reported
// back through Decision.Complete.
type Outcome string

// Completion outcomes.
const (
	OutcomeDownstreamOK    Outcome = "ok"
	OutcomeDownstreamError Outcome = "error"
)

// Decision is the result of one pipeline evaluation.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// State is the terminal state the evaluation reached.
	State State

	// Stage is the denying check. Empty when allowed.
	Stage Stage

	// Message is the uniform user-visible denial message. Empty when
	// allowed.
	Message string

	// Identity is the resolved identity. Anonymous for public
	// endpoints; nil when denied before authentication.
	Identity *auth.Identity

	// Findings are the sub-critical threat findings attached for
	// downstream logging.
	Findings []threat.Finding

	// RateResult reflects the rate limit window state for response
	// headers, when the check ran.
	RateResult *ratelimit.Result

	// RetryAfter is set on rate limit denials.
	RetryAfter time.Duration

	accessRecorded bool
	complete       func(Outcome)
}

// Complete reports the downstream outcome of an allowed request. It is
// idempotent and a no-op for denied decisions.
func (d *Decision) Complete(outcome Outcome) {
	if d.complete != nil {
		d.complete(outcome)
	}
}

// stats holds the pipeline's aggregate counters.
type stats struct {
	processed      atomic.Int64
	blocked        atomic.Int64
	authFailures   atomic.Int64
	rateViolations atomic.Int64
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Processed      int64 `json:"processed"`
	Blocked        int64 `json:"blocked"`
	AuthFailures   int64 `json:"auth_failures"`
	RateViolations int64 `json:"rate_violations"`
}

// Stats returns a snapshot of the aggregate counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:      p.stats.processed.Load(),
		Blocked:        p.stats.blocked.Load(),
		AuthFailures:   p.stats.authFailures.Load(),
		RateViolations: p.stats.rateViolations.Load(),
	}
}
