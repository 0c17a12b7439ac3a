// Package auth resolves credentials into identities and manages the
// session lifecycle for the security pipeline.
package auth

import (
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
)

// Method represents the authentication method used.
type Method string

// Authentication methods.
const (
	MethodJWT       Method = "jwt"
	MethodAPIKey    Method = "api_key"
	MethodAnonymous Method = "anonymous"
)

// Identity represents an authenticated identity. It is immutable per
// request and derived fresh from the credential on every call; callers
// must not cache it across requests.
type Identity struct {
	// Subject is the unique identifier for the identity.
	Subject string `json:"sub"`

	// Username is the display name, if known.
	Username string `json:"username,omitempty"`

	// Roles contains the roles assigned to the identity.
	Roles []rbac.Role `json:"roles,omitempty"`

	// Permissions contains the effective permissions, derived from the
	// roles at authentication time.
	Permissions []rbac.Permission `json:"permissions,omitempty"`

	// Scopes restricts the effective permissions for scoped credentials
	// (API keys). Empty means unrestricted.
	Scopes []rbac.Permission `json:"scopes,omitempty"`

	// Method is the authentication method used.
	Method Method `json:"auth_method"`

	// SessionID is the session the identity is bound to, if any.
	SessionID string `json:"session_id,omitempty"`
}

// Anonymous returns the identity used for public endpoints.
func Anonymous() *Identity {
	return &Identity{
		Subject: "anonymous",
		Roles:   []rbac.Role{rbac.RoleGuest},
		Method:  MethodAnonymous,
	}
}

// HasRole checks if the identity has a specific role.
func (i *Identity) HasRole(role rbac.Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether the identity is the anonymous identity.
func (i *Identity) IsAnonymous() bool {
	return i.Method == MethodAnonymous
}
