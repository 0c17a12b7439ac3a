// Package apikey provides API key storage and validation. Keys are
// stored hashed only; verification uses constant-time comparison.
package apikey

import (
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
)

// Key represents a stored API key. The plaintext secret is never kept;
// only its hash is stored.
type Key struct {
	// ID is the public key identifier.
	ID string `json:"id"`

	// Name is a human-readable name for the key.
	Name string `json:"name,omitempty"`

	// Subject is the subject the key was issued to.
	Subject string `json:"subject"`

	// SecretHash is the hash of the key secret.
	SecretHash string `json:"-"`

	// Roles are the roles granted to the key's subject.
	Roles []rbac.Role `json:"roles,omitempty"`

	// Scopes restricts the key to a subset of the subject's
	// permissions. A key can never hold a permission the issuing
	// subject does not have.
	Scopes []rbac.Permission `json:"scopes,omitempty"`

	// ExpiresAt is when the key expires. Zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Revoked marks the key as revoked.
	Revoked bool `json:"revoked,omitempty"`

	// CreatedAt is when the key was created.
	CreatedAt time.Time `json:"created_at"`

	// usageCount counts validations. Updated atomically; reads may lag
	// under concurrent use, which is acceptable for a usage counter.
	usageCount atomic.Int64
}

// IsExpired returns true if the key has expired.
func (k *Key) IsExpired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// UsageCount returns the number of successful validations.
func (k *Key) UsageCount() int64 {
	return k.usageCount.Load()
}

// recordUse increments the usage counter and returns the new count.
func (k *Key) recordUse() int64 {
	return k.usageCount.Add(1)
}

// Snapshot returns a copy of the key safe to hand to callers. The
// secret hash is omitted.
func (k *Key) Snapshot() *Key {
	copied := &Key{
		ID:        k.ID,
		Name:      k.Name,
		Subject:   k.Subject,
		Roles:     append([]rbac.Role(nil), k.Roles...),
		Scopes:    append([]rbac.Permission(nil), k.Scopes...),
		ExpiresAt: k.ExpiresAt,
		Revoked:   k.Revoked,
		CreatedAt: k.CreatedAt,
	}
	copied.usageCount.Store(k.usageCount.Load())
	return copied
}
