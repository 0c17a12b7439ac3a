package jwt

import (
	"time"
)

// Custom claim names.
const (
	claimRoles       = "roles"
	claimPermissions = "permissions"
	claimUsername    = "username"
	claimTokenUse    = "token_use"
	claimSessionID   = "session_id"
)

// Claims is the decoded claim set of a validated token.
type Claims struct {
	// Subject is the sub claim.
	Subject string

	// Username is the display name claim.
	Username string

	// Roles are the role names carried by the token.
	Roles []string

	// Permissions are the permission names carried by the token.
	Permissions []string

	// TokenUse is access or refresh.
	TokenUse string

	// SessionID binds the token to a session, if any.
	SessionID string

	// ID is the jti claim.
	ID string

	// IssuedAt is the iat claim.
	IssuedAt time.Time

	// ExpiresAt is the exp claim.
	ExpiresAt time.Time
}

// IsRefresh reports whether the token is a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.TokenUse == UseRefresh
}

// stringSlice converts a JSON-decoded claim value into a string slice.
// Claims round-trip through JSON, so arrays arrive as []interface{}.
func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// stringClaim converts a JSON-decoded claim value into a string.
func stringClaim(v interface{}) string {
	s, _ := v.(string)
	return s
}
