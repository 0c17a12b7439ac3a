package auth

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// IdentityResolver verifies one credential kind and resolves the
// identity. Implemented by the jwt and apikey subpackages.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*Identity, error)
}

// TokenIssuer issues and refreshes token pairs. Implemented by the jwt
// subpackage.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, identity *Identity) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// Manager is the authentication front door: it resolves credentials
// into identities, binds them to sessions and manages the session
// lifecycle. Identities are derived fresh on every call.
type Manager struct {
	tokens       IdentityResolver
	apiKeys      IdentityResolver
	issuer       TokenIssuer
	sessions     session.Store
	sessionTTL   time.Duration
	storeTimeout time.Duration
	logger       observability.Logger
}

// ManagerOption is a functional option for the manager.
type ManagerOption func(*Manager)

// WithTokenResolver sets the bearer token resolver.
func WithTokenResolver(resolver IdentityResolver) ManagerOption {
	return func(m *Manager) {
		m.tokens = resolver
	}
}

// WithAPIKeyResolver sets the API key resolver.
func WithAPIKeyResolver(resolver IdentityResolver) ManagerOption {
	return func(m *Manager) {
		m.apiKeys = resolver
	}
}

// WithTokenIssuer sets the token issuer.
func WithTokenIssuer(issuer TokenIssuer) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithSessionStore sets the session store.
func WithSessionStore(store session.Store) ManagerOption {
	return func(m *Manager) {
		m.sessions = store
	}
}

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sessionTTL = ttl
	}
}

// WithStoreTimeout bounds every store lookup. On timeout the manager
// fails closed.
func WithStoreTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.storeTimeout = timeout
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an authentication manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessionTTL:   time.Hour,
		storeTimeout: 2 * time.Second,
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Authenticate resolves a credential into an identity. The identity is
// derived fresh; nothing is cached across calls. Session-bound tokens
// are checked against the session store and fail closed when the store
// is unreachable.
func (m *Manager) Authenticate(ctx context.Context, credential Credential) (*Identity, error) {
	switch credential.Kind {
	case CredentialBearer:
		if m.tokens == nil {
			return nil, &Error{Reason: ErrMalformedCredential, Detail: "bearer auth not configured"}
		}
		identity, err := m.tokens.Resolve(ctx, credential.Value)
		if err != nil {
			return nil, err
		}
		if identity.SessionID != "" {
			if err := m.checkSession(ctx, identity); err != nil {
				return nil, err
			}
		}
		return identity, nil

	case CredentialAPIKey:
		if m.apiKeys == nil {
			return nil, &Error{Reason: ErrMalformedCredential, Detail: "api key auth not configured"}
		}
		return m.apiKeys.Resolve(ctx, credential.Value)

	default:
		return nil, ErrNoCredentials
	}
}

// checkSession verifies the session an identity is bound to and records
// the request against it.
func (m *Manager) checkSession(ctx context.Context, identity *Identity) error {
	if m.sessions == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	sess, err := m.sessions.Get(ctx, identity.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return &Error{Reason: ErrTokenRevoked, Detail: "session gone"}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return &Error{Reason: ErrStoreUnavailable, Detail: "session store timeout"}
	case err != nil:
		return &Error{Reason: ErrStoreUnavailable, Detail: err.Error()}
	}

	switch sess.EffectiveStatus(time.Now()) {
	case session.StatusRevoked:
		return &Error{Reason: ErrTokenRevoked, Detail: "session revoked"}
	case session.StatusExpired:
		return &Error{Reason: ErrTokenExpired, Detail: "session expired"}
	case session.StatusActive:
	default:
		return &Error{Reason: ErrMalformedCredential, Detail: "session invalid"}
	}

	// Touch races benignly across concurrent requests.
	if err := m.sessions.Touch(ctx, sess.ID, time.Now()); err != nil {
		m.logger.WithContext(ctx).Warn("session touch failed",
			observability.String("session_id", sess.ID),
			observability.Error(err),
		)
	}

	return nil
}

// IssueSession creates a session for an authenticated identity and
// issues a token pair bound to it.
func (m *Manager) IssueSession(ctx context.Context, identity *Identity, meta session.Metadata) (*session.Session, *TokenPair, error) {
	if m.sessions == nil || m.issuer == nil {
		return nil, nil, &Error{Reason: ErrStoreUnavailable, Detail: "session issuance not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	sess, err := m.sessions.Issue(ctx, identity.Subject, m.sessionTTL, meta)
	if err != nil {
		return nil, nil, &Error{Reason: ErrStoreUnavailable, Detail: err.Error()}
	}

	bound := *identity
	bound.SessionID = sess.ID

	pair, err := m.issuer.IssueTokens(ctx, &bound)
	if err != nil {
		return nil, nil, err
	}

	m.logger.WithContext(ctx).Info("session issued",
		observability.String("subject", identity.Subject),
		observability.String("session_id", sess.ID),
	)

	return sess, pair, nil
}

// RefreshToken exchanges a refresh credential for a new token pair.
// Replayed one-time refresh tokens are treated as revoked.
func (m *Manager) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if m.issuer == nil {
		return nil, &Error{Reason: ErrMalformedCredential, Detail: "token refresh not configured"}
	}
	return m.issuer.Refresh(ctx, refreshToken)
}

// RevokeSession revokes a session. Idempotent: revoking an already
// revoked session succeeds.
func (m *Manager) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if m.sessions == nil {
		return ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	err := m.sessions.Revoke(ctx, sessionID, reason)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// Sessions exposes the session store for the administrative surface.
func (m *Manager) Sessions() session.Store {
	return m.sessions
}
