package pipeline

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth/apikey"
	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/reputation"
)

// Admin is the in-process operations surface. Every mutating admin
// action lands on the audit trail.
type Admin struct {
	pipeline   *Pipeline
	sessions   session.Store
	apiKeys    apikey.Store
	reputation reputation.Store
	trail      *audit.Trail
	assessor   *audit.Assessor
}

// NewAdmin creates the admin surface.
func NewAdmin(
	p *Pipeline,
	sessions session.Store,
	apiKeys apikey.Store,
	reputationStore reputation.Store,
	trail *audit.Trail,
	assessor *audit.Assessor,
) *Admin {
	return &Admin{
		pipeline:   p,
		sessions:   sessions,
		apiKeys:    apiKeys,
		reputation: reputationStore,
		trail:      trail,
		assessor:   assessor,
	}
}

// Sessions lists a subject's sessions.
func (a *Admin) Sessions(ctx context.Context, subject string) ([]*session.Session, error) {
	return a.sessions.List(ctx, subject)
}

// RevokeSession revokes a session by ID.
func (a *Admin) RevokeSession(ctx context.Context, id, reason string) error {
	if err := a.sessions.Revoke(ctx, id, reason); err != nil {
		return err
	}
	_, err := a.trail.Record(ctx, audit.NewEvent(audit.CategorySession, audit.ActionSessionRevoke, audit.OutcomeSuccess).
		WithDetail("session_id", id).
		WithDetail("revoke_reason", reason))
	return err
}

// APIKeys lists all API keys. The store returns snapshots, so secret
// material never leaves it.
func (a *Admin) APIKeys(ctx context.Context) ([]*apikey.Key, error) {
	return a.apiKeys.List(ctx)
}

// RevokeAPIKey revokes an API key by ID.
func (a *Admin) RevokeAPIKey(ctx context.Context, id string) error {
	if err := a.apiKeys.Revoke(ctx, id); err != nil {
		return err
	}
	_, err := a.trail.Record(ctx, audit.NewEvent(audit.CategorySecurity, audit.ActionAPIKeyRevoke, audit.OutcomeSuccess).
		WithDetail("key_id", id))
	return err
}

// BlockIP blocks an IP for the given duration. Zero blocks
// permanently.
func (a *Admin) BlockIP(ctx context.Context, ip string, d time.Duration, reason string) error {
	if err := a.reputation.Block(ctx, ip, d, reason); err != nil {
		return err
	}
	_, err := a.trail.Record(ctx, audit.NewEvent(audit.CategorySecurity, audit.ActionIPBlock, audit.OutcomeSuccess).
		WithIP(ip).
		WithDetail("duration", d.String()).
		WithDetail("block_reason", reason))
	return err
}

// UnblockIP removes an IP block.
func (a *Admin) UnblockIP(ctx context.Context, ip string) error {
	if err := a.reputation.Unblock(ctx, ip); err != nil {
		return err
	}
	_, err := a.trail.Record(ctx, audit.NewEvent(audit.CategorySecurity, audit.ActionIPUnblock, audit.OutcomeSuccess).
		WithIP(ip))
	return err
}

// ReputationEntries lists active reputation entries.
func (a *Admin) ReputationEntries(ctx context.Context) ([]reputation.Entry, error) {
	return a.reputation.Entries(ctx)
}

// QueryAudit reads audit events.
func (a *Admin) QueryAudit(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	return a.trail.Query(ctx, filter)
}

// Assess runs a compliance assessment and records that it ran.
func (a *Admin) Assess(ctx context.Context, framework audit.Framework) (*audit.Report, error) {
	report, err := a.assessor.Assess(ctx, framework)
	if err != nil {
		return nil, err
	}
	_, recordErr := a.trail.Record(ctx, audit.NewEvent(audit.CategoryCompliance, audit.ActionComplianceAssessment, audit.OutcomeSuccess).
		WithComplianceTags(framework).
		WithDetail("framework", string(framework)).
		WithDetail("score", report.Score).
		WithDetail("violations", len(report.Violations)))
	if recordErr != nil {
		return nil, recordErr
	}
	return report, nil
}

// Stats returns the pipeline counter snapshot.
func (a *Admin) Stats() Stats {
	return a.pipeline.Stats()
}
