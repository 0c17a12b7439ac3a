package auth

import (
	"strings"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/request"
)

// CredentialKind is how the credential was presented.
type CredentialKind string

// Credential kinds.
const (
	CredentialBearer CredentialKind = "bearer"
	CredentialAPIKey CredentialKind = "api_key"
	CredentialNone   CredentialKind = "none"
)

// Credential is an extracted, unverified credential.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Header names checked for credentials.
const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "X-API-Key"
	bearerPrefix        = "Bearer "
)

// ExtractCredential pulls the credential from a request descriptor.
// Bearer tokens take precedence over API keys when both are present.
func ExtractCredential(desc *request.Descriptor) Credential {
	if authz := desc.Header(headerAuthorization); authz != "" {
		if token, ok := cutPrefixFold(authz, bearerPrefix); ok && token != "" {
			return Credential{Kind: CredentialBearer, Value: token}
		}
		// An Authorization header in any other shape is still a bearer
		// attempt; let validation classify it as malformed.
		return Credential{Kind: CredentialBearer, Value: ""}
	}

	if key := desc.Header(headerAPIKey); key != "" {
		return Credential{Kind: CredentialAPIKey, Value: key}
	}

	return Credential{Kind: CredentialNone}
}

// cutPrefixFold is strings.CutPrefix with ASCII case-insensitive prefix
// matching, since "bearer" capitalization varies across clients.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	// AccessToken is the short-lived access token.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived refresh token.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time `json:"expires_at"`
}
