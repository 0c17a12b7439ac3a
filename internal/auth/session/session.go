// Package session manages authenticated session lifecycle. Sessions are
// owned by the store; callers only ever receive serialized snapshots,
// never shared references.
package session

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
	StatusInvalid Status = "invalid"
)

// Session represents one authenticated session.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// Subject is the authenticated subject.
	Subject string `json:"subject"`

	// IssuedAt is when the session was created.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt is when the session expires.
	ExpiresAt time.Time `json:"expires_at"`

	// LastActiveAt is the time of the most recent authorized request.
	// Concurrent updates race benignly; last writer wins.
	LastActiveAt time.Time `json:"last_active_at"`

	// RequestCount counts authorized requests. Same benign-race
	// contract as LastActiveAt.
	RequestCount int64 `json:"request_count"`

	// Status is the stored lifecycle state. Use EffectiveStatus for the
	// expiry-aware state.
	Status Status `json:"status"`

	// ClientIP is the client address at issue time.
	ClientIP string `json:"client_ip,omitempty"`

	// UserAgent is the client user agent at issue time.
	UserAgent string `json:"user_agent,omitempty"`
}

// EffectiveStatus returns the status with lazy expiry applied: an
// active session past its expiry reads as expired without a store
// write.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}

// snapshot returns a copy of the session.
func (s *Session) snapshot() *Session {
	copied := *s
	return &copied
}

// Metadata describes the client that established the session.
type Metadata struct {
	ClientIP  string
	UserAgent string
}
