package jwt

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Authority combines signer and validator into the token side of
// authentication: it resolves access tokens into identities, issues
// token pairs and refreshes them. It implements auth.IdentityResolver
// and auth.TokenIssuer.
type Authority struct {
	config    *Config
	signer    Signer
	validator Validator
	replay    ReplayCache
	logger    observability.Logger
}

var (
	_ auth.IdentityResolver = (*Authority)(nil)
	_ auth.TokenIssuer      = (*Authority)(nil)
)

// AuthorityOption is a functional option for the authority.
type AuthorityOption func(*Authority)

// WithAuthorityLogger sets the logger.
func WithAuthorityLogger(logger observability.Logger) AuthorityOption {
	return func(a *Authority) {
		a.logger = logger
	}
}

// WithReplayCache sets the refresh token replay cache.
func WithReplayCache(cache ReplayCache) AuthorityOption {
	return func(a *Authority) {
		a.replay = cache
	}
}

// NewAuthority creates a token authority.
func NewAuthority(config *Config, opts ...AuthorityOption) (*Authority, error) {
	if config == nil {
		return nil, fmt.Errorf("jwt: config is required")
	}

	a := &Authority{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	signer, err := NewSigner(config, WithSignerLogger(a.logger))
	if err != nil {
		return nil, err
	}
	validator, err := NewValidator(config, WithValidatorLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.signer = signer
	a.validator = validator

	if a.replay == nil && config.OneTimeRefresh {
		a.replay = NewMemoryReplayCache()
	}

	return a, nil
}

// Resolve validates an access token and returns the identity it
// carries.
func (a *Authority) Resolve(ctx context.Context, token string) (*auth.Identity, error) {
	claims, err := a.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	if claims.TokenUse != UseAccess {
		return nil, &auth.Error{Reason: auth.ErrMalformedCredential, Detail: "not an access token"}
	}

	return identityFromClaims(claims), nil
}

// IssueTokens issues an access/refresh pair for the identity.
func (a *Authority) IssueTokens(ctx context.Context, identity *auth.Identity) (*auth.TokenPair, error) {
	claims := claimsFromIdentity(identity)

	access, expiresAt, err := a.signer.SignAccess(ctx, claims)
	if err != nil {
		return nil, &auth.Error{Reason: auth.ErrMalformedCredential, Detail: err.Error()}
	}
	refresh, _, err := a.signer.SignRefresh(ctx, claims)
	if err != nil {
		return nil, &auth.Error{Reason: auth.ErrMalformedCredential, Detail: err.Error()}
	}

	return &auth.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. With one-time-use
// enabled, a replayed refresh token is treated as revoked.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := a.validator.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if !claims.IsRefresh() {
		return nil, &auth.Error{Reason: auth.ErrMalformedCredential, Detail: "not a refresh token"}
	}

	if a.config.OneTimeRefresh && a.replay != nil {
		if !a.replay.MarkUsed(claims.ID, claims.ExpiresAt) {
			a.logger.WithContext(ctx).Warn("refresh token replay detected",
				observability.String("subject", claims.Subject),
				observability.String("jti", claims.ID),
			)
			return nil, &auth.Error{Reason: auth.ErrTokenRevoked, Detail: "refresh token replayed"}
		}
	}

	return a.IssueTokens(ctx, identityFromClaims(claims))
}

// identityFromClaims builds the per-request identity from a validated
// claim set.
func identityFromClaims(claims *Claims) *auth.Identity {
	roles := make([]rbac.Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		roles = append(roles, rbac.Role(r))
	}

	permissions := make([]rbac.Permission, 0, len(claims.Permissions))
	for _, p := range claims.Permissions {
		permissions = append(permissions, rbac.Permission(p))
	}
	if len(permissions) == 0 {
		permissions = rbac.PermissionsOfRoles(roles)
	}

	return &auth.Identity{
		Subject:     claims.Subject,
		Username:    claims.Username,
		Roles:       roles,
		Permissions: permissions,
		Method:      auth.MethodJWT,
		SessionID:   claims.SessionID,
	}
}

// claimsFromIdentity builds a claim set from an identity for signing.
func claimsFromIdentity(identity *auth.Identity) *Claims {
	roles := make([]string, 0, len(identity.Roles))
	for _, r := range identity.Roles {
		roles = append(roles, string(r))
	}

	permissions := make([]string, 0, len(identity.Permissions))
	for _, p := range identity.Permissions {
		permissions = append(permissions, string(p))
	}

	return &Claims{
		Subject:     identity.Subject,
		Username:    identity.Username,
		Roles:       roles,
		Permissions: permissions,
		SessionID:   identity.SessionID,
	}
}
