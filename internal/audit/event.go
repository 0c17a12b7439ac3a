package audit

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Category classifies an audit event.
type Category string

// Event categories.
const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategorySecurity       Category = "security"
	CategoryRateLimit      Category = "rate_limit"
	CategorySession        Category = "session"
	CategoryData           Category = "data"
	CategorySystem         Category = "system"
	CategoryCompliance     Category = "compliance"
)

// Level is the severity of an audit event.
type Level string

// Levels.
const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Action names the audited operation.
type Action string

// Common actions.
const (
	// Authentication actions.
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionTokenRefresh Action = "token_refresh"
	ActionTokenRevoke  Action = "token_revoke"
	ActionAuthFailure  Action = "auth_failure"

	// Authorization actions.
	ActionAccess Action = "access"
	ActionDeny   Action = "deny"

	// Session and key administration.
	ActionSessionRevoke Action = "session_revoke"
	ActionAPIKeyRevoke  Action = "api_key_revoke"

	// Security actions.
	ActionRateLimitExceeded  Action = "rate_limit_exceeded"
	ActionReputationBlock    Action = "reputation_block"
	ActionIPBlock            Action = "ip_block"
	ActionIPUnblock          Action = "ip_unblock"
	ActionThreatDetected     Action = "threat_detected"
	ActionBruteForceDetected Action = "brute_force_detected"

	// Data actions.
	ActionDataExport Action = "data_export"

	// System and compliance actions.
	ActionRetentionPurge       Action = "retention_purge"
	ActionAuditWriteFailure    Action = "audit_write_failure"
	ActionConsentUpdate        Action = "consent_update"
	ActionComplianceAssessment Action = "compliance_assessment"
)

// Outcome is the result of the audited operation.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Framework identifies a compliance framework an event is relevant to.
type Framework string

// Frameworks.
const (
	FrameworkGDPR Framework = "gdpr"
	FrameworkSOC2 Framework = "soc2"
)

// Event is one immutable audit trail entry. The ID is a ULID, so IDs
// sort in creation order.
type Event struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Category       Category       `json:"category"`
	Action         Action         `json:"action"`
	Level          Level          `json:"level"`
	Outcome        Outcome        `json:"outcome"`
	Subject        string         `json:"subject,omitempty"`
	IP             string         `json:"ip,omitempty"`
	Resource       string         `json:"resource,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	ComplianceTags []Framework    `json:"compliance_tags,omitempty"`
	RetentionUntil time.Time      `json:"retention_until"`
}

// NewEvent creates an event with the given classification and
// info level. The trail assigns ID, timestamp and retention on record.
func NewEvent(category Category, action Action, outcome Outcome) *Event {
	return &Event{
		Category: category,
		Action:   action,
		Outcome:  outcome,
		Level:    LevelInfo,
	}
}

// WithLevel sets the level.
func (e *Event) WithLevel(level Level) *Event {
	e.Level = level
	return e
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject string) *Event {
	e.Subject = subject
	return e
}

// WithIP sets the client IP.
func (e *Event) WithIP(ip string) *Event {
	e.IP = ip
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource string) *Event {
	e.Resource = resource
	return e
}

// WithDetail adds one detail entry.
func (e *Event) WithDetail(key string, value any) *Event {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithComplianceTags tags the event as relevant to the given
// frameworks.
func (e *Event) WithComplianceTags(frameworks ...Framework) *Event {
	e.ComplianceTags = append(e.ComplianceTags, frameworks...)
	return e
}

// Tagged reports whether the event carries the framework tag.
func (e *Event) Tagged(framework Framework) bool {
	for _, f := range e.ComplianceTags {
		if f == framework {
			return true
		}
	}
	return false
}

// entropy is the shared monotonic ULID entropy source. Monotonic
// entropy keeps IDs strictly increasing within one millisecond.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEventID generates a sortable unique event ID.
func newEventID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
