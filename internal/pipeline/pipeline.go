// Package pipeline evaluates inbound requests through the security
// middleware chain: IP reputation, rate limiting, threat scanning,
// authentication and authorization, in that order. Every denial is
// recorded on the audit trail exactly once.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	"github.com/vyrodovalexey/avsecmw/internal/reputation"
	"github.com/vyrodovalexey/avsecmw/internal/request"
	"github.com/vyrodovalexey/avsecmw/internal/threat"
)

// RateLimiter is the rate limiting dependency of the pipeline.
type RateLimiter interface {
	Check(ctx context.Context, key string, now time.Time) *ratelimit.Result
}

// Config holds pipeline tuning.
type Config struct {
	// CriticalSeverity is the finding severity at or above which a
	// request is denied and the source auto-blocked.
	CriticalSeverity int

	// AuthFailureThreshold is how many authentication failures from one
	// source within AuthFailureWindow escalate to critical and block
	// the source.
	AuthFailureThreshold int
	AuthFailureWindow    time.Duration

	// BlockDuration is how long auto-blocks last.
	BlockDuration time.Duration

	// CheckTimeout bounds each store-backed check.
	CheckTimeout time.Duration
}

// DefaultConfig returns the default pipeline tuning.
func DefaultConfig() *Config {
	return &Config{
		CriticalSeverity:     8,
		AuthFailureThreshold: 5,
		AuthFailureWindow:    5 * time.Minute,
		BlockDuration:        15 * time.Minute,
		CheckTimeout:         2 * time.Second,
	}
}

// failState tracks authentication failures from one source.
type failState struct {
	count int
	first time.Time
}

// Pipeline is the security evaluation chain.
type Pipeline struct {
	reputation reputation.Store
	limiter    RateLimiter
	scanner    threat.Scanner
	auth       *auth.Manager
	authz      rbac.Engine
	trail      *audit.Trail

	config  *Config
	logger  observability.Logger
	metrics *Metrics
	stats   stats
	now     func() time.Time

	mu           sync.Mutex
	authFailures map[string]*failState
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPipelineMetrics sets the metrics collector.
func WithPipelineMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithConfig sets the pipeline tuning.
func WithConfig(cfg *Config) Option {
	return func(p *Pipeline) {
		if cfg != nil {
			p.config = cfg
		}
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline over the given dependencies.
func New(
	reputationStore reputation.Store,
	limiter RateLimiter,
	scanner threat.Scanner,
	authManager *auth.Manager,
	authzEngine rbac.Engine,
	trail *audit.Trail,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		reputation:   reputationStore,
		limiter:      limiter,
		scanner:      scanner,
		auth:         authManager,
		authz:        authzEngine,
		trail:        trail,
		config:       DefaultConfig(),
		logger:       observability.NopLogger(),
		now:          time.Now,
		authFailures: make(map[string]*failState),
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate runs the full chain for one request. It always returns a
// Decision; every denial has already been written to the audit trail
// when Evaluate returns.
func (p *Pipeline) Evaluate(ctx context.Context, desc *request.Descriptor, profile *request.EndpointProfile) *Decision {
	start := p.now()
	if profile == nil {
		profile = request.PublicProfile()
	}

	p.stats.processed.Add(1)

	d := &Decision{State: StateReceived}
	defer func() {
		p.observe(d, p.now().Sub(start))
	}()

	if p.checkReputation(ctx, desc, d) {
		return d
	}
	d.State = StateIPChecked

	if p.checkRateLimit(ctx, desc, d) {
		return d
	}
	d.State = StateRateChecked

	if p.scanThreats(ctx, desc, d) {
		return d
	}
	d.State = StateScanned

	if p.authenticate(ctx, desc, profile, d) {
		return d
	}
	d.State = StateAuthenticated

	if p.checkSubjectRateLimit(ctx, desc, d) {
		return d
	}

	if p.authorize(ctx, desc, profile, d) {
		return d
	}
	d.State = StateAuthorized

	if p.sealHighSecurity(ctx, desc, profile, d) {
		return d
	}

	d.State = StateAllowed
	d.Allowed = true
	d.complete = p.completeFunc(desc, profile, d)
	return d
}

// checkReputation denies requests from blocked sources. A store
// failure degrades open: blocking legitimate traffic on an outage is
// worse than missing a block, and the failure is loudly logged.
func (p *Pipeline) checkReputation(ctx context.Context, desc *request.Descriptor, d *Decision) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	blocked, err := p.reputation.IsBlocked(checkCtx, desc.ClientIP)
	if err != nil {
		p.logger.Error("reputation check failed, allowing request",
			observability.String("ip", desc.ClientIP),
			observability.Error(err),
		)
		p.metrics.RecordCheckError("reputation")
		return false
	}
	if !blocked {
		return false
	}

	p.stats.blocked.Add(1)
	p.deny(ctx, d, StageIP, messageBlocked,
		audit.NewEvent(audit.CategorySecurity, audit.ActionReputationBlock, audit.OutcomeFailure).
			WithLevel(audit.LevelWarning).
			WithIP(desc.ClientIP).
			WithResource(desc.Path))
	return true
}

// checkRateLimit denies requests over either window. The identity is
// not resolved yet at this stage, so the key is the client IP;
// authenticated requests are re-keyed by checkSubjectRateLimit once
// the subject is known.
func (p *Pipeline) checkRateLimit(ctx context.Context, desc *request.Descriptor, d *Decision) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	result := p.limiter.Check(checkCtx, ratelimit.Key("", desc.ClientIP), p.now())
	d.RateResult = result
	if result.Allowed {
		return false
	}

	p.stats.rateViolations.Add(1)
	d.RetryAfter = result.RetryAfter
	p.deny(ctx, d, StageRateLimit, messageRateLimited,
		audit.NewEvent(audit.CategoryRateLimit, audit.ActionRateLimitExceeded, audit.OutcomeFailure).
			WithLevel(audit.LevelWarning).
			WithIP(desc.ClientIP).
			WithResource(desc.Path).
			WithDetail("retry_after", result.RetryAfter.String()))
	return true
}

// checkSubjectRateLimit re-checks the limiter under the authenticated
// subject's key. The pre-auth check was keyed by client IP; once the
// subject is known it gets its own budget, so one account behind a
// shared NAT cannot exhaust the others' allowance and cannot dodge the
// limit by rotating addresses.
func (p *Pipeline) checkSubjectRateLimit(ctx context.Context, desc *request.Descriptor, d *Decision) bool {
	if d.Identity == nil || d.Identity.IsAnonymous() {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	result := p.limiter.Check(checkCtx, ratelimit.Key(d.Identity.Subject, desc.ClientIP), p.now())
	d.RateResult = result
	if result.Allowed {
		return false
	}

	p.stats.rateViolations.Add(1)
	d.RetryAfter = result.RetryAfter
	p.deny(ctx, d, StageRateLimit, messageRateLimited,
		audit.NewEvent(audit.CategoryRateLimit, audit.ActionRateLimitExceeded, audit.OutcomeFailure).
			WithLevel(audit.LevelWarning).
			WithSubject(d.Identity.Subject).
			WithIP(desc.ClientIP).
			WithResource(desc.Path).
			WithDetail("retry_after", result.RetryAfter.String()))
	return true
}

// scanThreats denies on critical findings and auto-blocks the source.
// Sub-threshold findings ride along on the decision for downstream
// logging. Scanner errors cannot happen by contract; a panicking
// detector already degrades to zero findings inside the scanner.
func (p *Pipeline) scanThreats(ctx context.Context, desc *request.Descriptor, d *Decision) bool {
	findings := p.scanner.Scan(ctx, desc)
	d.Findings = findings

	maxSeverity := threat.MaxSeverity(findings)
	if maxSeverity < p.config.CriticalSeverity {
		return false
	}

	blockCtx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()
	if err := p.reputation.Block(blockCtx, desc.ClientIP, p.config.BlockDuration, "critical threat finding"); err != nil {
		p.logger.Error("auto-block after critical finding failed",
			observability.String("ip", desc.ClientIP),
			observability.Error(err),
		)
		p.metrics.RecordCheckError("reputation")
	}

	event := audit.NewEvent(audit.CategorySecurity, audit.ActionThreatDetected, audit.OutcomeFailure).
		WithLevel(audit.LevelCritical).
		WithIP(desc.ClientIP).
		WithResource(desc.Path).
		WithDetail("max_severity", maxSeverity).
		WithDetail("findings", findingSummaries(findings))

	p.stats.blocked.Add(1)
	p.deny(ctx, d, StageThreat, messageForbidden, event)
	return true
}

// authenticate resolves the credential for protected endpoints.
// Failures are uniform toward the client; repeated failures from one
// source escalate to critical and block it.
func (p *Pipeline) authenticate(ctx context.Context, desc *request.Descriptor, profile *request.EndpointProfile, d *Decision) bool {
	if !profile.RequiresAuth {
		d.Identity = auth.Anonymous()
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	credential := auth.ExtractCredential(desc)
	identity, err := p.auth.Authenticate(checkCtx, credential)
	if err == nil {
		d.Identity = identity
		p.clearAuthFailures(desc.ClientIP)
		return false
	}

	p.stats.authFailures.Add(1)

	reason := auth.ReasonOf(err)
	level := audit.LevelWarning
	action := audit.ActionAuthFailure

	if p.recordAuthFailure(desc.ClientIP) {
		level = audit.LevelCritical
		action = audit.ActionBruteForceDetected

		blockCtx, blockCancel := context.WithTimeout(ctx, p.config.CheckTimeout)
		if blockErr := p.reputation.Block(blockCtx, desc.ClientIP, p.config.BlockDuration, "repeated authentication failures"); blockErr != nil {
			p.logger.Error("auto-block after repeated auth failures failed",
				observability.String("ip", desc.ClientIP),
				observability.Error(blockErr),
			)
			p.metrics.RecordCheckError("reputation")
		}
		blockCancel()
	}

	p.deny(ctx, d, StageAuthentication, messageUnauthorized,
		audit.NewEvent(audit.CategoryAuthentication, action, audit.OutcomeFailure).
			WithLevel(level).
			WithIP(desc.ClientIP).
			WithResource(desc.Path).
			WithDetail("reason", reason).
			WithDetail("credential_kind", string(credential.Kind)))
	return true
}

// authorize checks the endpoint's required permission.
func (p *Pipeline) authorize(ctx context.Context, desc *request.Descriptor, profile *request.EndpointProfile, d *Decision) bool {
	if profile.RequiredPermission == "" {
		return false
	}

	identity := d.Identity
	if identity == nil {
		identity = auth.Anonymous()
		d.Identity = identity
	}

	decision := p.authz.Authorize(ctx, &rbac.Request{
		Subject:  identity.Subject,
		Roles:    identity.Roles,
		Scopes:   identity.Scopes,
		Required: rbac.Permission(profile.RequiredPermission),
	})
	if decision.Allowed {
		return false
	}

	p.deny(ctx, d, StageAuthorization, messageForbidden,
		audit.NewEvent(audit.CategoryAuthorization, audit.ActionDeny, audit.OutcomeFailure).
			WithLevel(audit.LevelWarning).
			WithSubject(identity.Subject).
			WithIP(desc.ClientIP).
			WithResource(desc.Path).
			WithDetail("required_permission", profile.RequiredPermission).
			WithDetail("reason", decision.Reason))
	return true
}

// sealHighSecurity writes the access event for high-security endpoints
// before the request proceeds. If the trail cannot take the write the
// request is denied: these endpoints never run without a trail.
func (p *Pipeline) sealHighSecurity(ctx context.Context, desc *request.Descriptor, profile *request.EndpointProfile, d *Decision) bool {
	if profile.SecurityLevel != request.SecurityLevelHigh {
		return false
	}

	event := audit.NewEvent(audit.CategoryAuthorization, audit.ActionAccess, audit.OutcomeSuccess).
		WithIP(desc.ClientIP).
		WithResource(desc.Path)
	if d.Identity != nil {
		event.WithSubject(d.Identity.Subject)
	}

	if _, err := p.trail.Record(ctx, event); err == nil {
		d.accessRecorded = true
		return false
	}

	d.Allowed = false
	d.State = StateDenied
	d.Stage = StageAudit
	d.Message = messageForbidden
	p.stats.blocked.Add(1)
	return true
}

// deny finalizes the decision and writes its single audit event.
func (p *Pipeline) deny(ctx context.Context, d *Decision, stage Stage, message string, event *audit.Event) {
	d.Allowed = false
	d.State = StateDenied
	d.Stage = stage
	d.Message = message

	event.WithDetail("stage", string(stage))
	if _, err := p.trail.Record(ctx, event); err != nil {
		// The trail has already escalated out of band; the denial
		// stands either way.
		p.logger.Error("deny event not recorded", observability.Error(err))
	}
}

// completeFunc builds the Complete callback for an allowed decision.
func (p *Pipeline) completeFunc(desc *request.Descriptor, profile *request.EndpointProfile, d *Decision) func(Outcome) {
	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() {
			p.metrics.RecordCompletion(string(outcome))
			if d.accessRecorded || outcome != OutcomeDownstreamError {
				return
			}
			// Downstream failures after an allow are security-relevant
			// on any endpoint; record them at info level.
			event := audit.NewEvent(audit.CategoryAuthorization, audit.ActionAccess, audit.OutcomeFailure).
				WithIP(desc.ClientIP).
				WithResource(desc.Path).
				WithDetail("security_level", string(profile.SecurityLevel))
			if d.Identity != nil {
				event.WithSubject(d.Identity.Subject)
			}
			if _, err := p.trail.Record(context.Background(), event); err != nil {
				p.logger.Error("completion event not recorded", observability.Error(err))
			}
		})
	}
}

// recordAuthFailure counts a failure from the source and reports
// whether the escalation threshold was reached.
func (p *Pipeline) recordAuthFailure(key string) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.authFailures[key]
	if !ok || now.Sub(st.first) > p.config.AuthFailureWindow {
		st = &failState{first: now}
		p.authFailures[key] = st
	}
	st.count++

	if st.count >= p.config.AuthFailureThreshold {
		delete(p.authFailures, key)
		return true
	}
	return false
}

func (p *Pipeline) clearAuthFailures(key string) {
	p.mu.Lock()
	delete(p.authFailures, key)
	p.mu.Unlock()
}

func (p *Pipeline) observe(d *Decision, elapsed time.Duration) {
	outcome := "allowed"
	stage := ""
	if !d.Allowed {
		outcome = "denied"
		stage = string(d.Stage)
	}
	p.metrics.RecordEvaluation(outcome, stage, elapsed)
}

func findingSummaries(findings []threat.Finding) []string {
	summaries := make([]string, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, f.MatchedSignal)
	}
	return summaries
}
