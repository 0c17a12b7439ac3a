// Package reputation maintains the IP reputation list: temporary or
// permanent block entries and allowlist overrides. An allowlist entry
// always wins over a block entry for the same key.
package reputation

import (
	"context"
	"time"
)

// Kind describes the effect of a reputation entry.
type Kind string

const (
	// KindAllow marks a key as exempt from blocking.
	KindAllow Kind = "allow"

	// KindBlock marks a key as blocked.
	KindBlock Kind = "block"
)

// Entry is one reputation list entry. A zero ExpiresAt means the entry
// is permanent.
type Entry struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has expired at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the reputation list storage. Expired entries are never
// honored regardless of whether a sweep has removed them yet.
type Store interface {
	// IsBlocked reports whether the key is currently blocked. An active
	// allowlist entry overrides any block.
	IsBlocked(ctx context.Context, key string) (bool, error)

	// IsAllowlisted reports whether the key has an active allowlist
	// entry.
	IsAllowlisted(ctx context.Context, key string) (bool, error)

	// Block adds a block entry for the key. A non-positive duration
	// blocks permanently. Blocking an already blocked key replaces the
	// entry.
	Block(ctx context.Context, key string, d time.Duration, reason string) error

	// Unblock removes the block entry for the key. Removing a missing
	// entry is not an error.
	Unblock(ctx context.Context, key string) error

	// Allowlist adds an allowlist entry for the key. A non-positive
	// duration allowlists permanently.
	Allowlist(ctx context.Context, key string, d time.Duration, reason string) error

	// RemoveAllowlist removes the allowlist entry for the key. Removing
	// a missing entry is not an error.
	RemoveAllowlist(ctx context.Context, key string) error

	// Entries returns all active entries.
	Entries(ctx context.Context) ([]Entry, error)

	// Close releases store resources.
	Close() error
}
