package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avsecmw/internal/auth/session"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/request"
)

// fakeResolver resolves a fixed token value to a fixed identity.
type fakeResolver struct {
	token    string
	identity *Identity
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if credential != f.token {
		return nil, &Error{Reason: ErrInvalidSignature, Detail: "unknown token"}
	}
	out := *f.identity
	return &out, nil
}

// fakeIssuer issues canned token pairs.
type fakeIssuer struct {
	refreshErr error
	issued     int
}

func (f *fakeIssuer) IssueTokens(ctx context.Context, identity *Identity) (*TokenPair, error) {
	f.issued++
	return &TokenPair{
		AccessToken:  "access-" + identity.SessionID,
		RefreshToken: "refresh-" + identity.SessionID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeIssuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &TokenPair{AccessToken: "refreshed", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestManager(resolver *fakeResolver, store session.Store) *Manager {
	return NewManager(
		WithTokenResolver(resolver),
		WithSessionStore(store),
		WithTokenIssuer(&fakeIssuer{}),
		WithSessionTTL(time.Hour),
	)
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string][]string
		want    Credential
	}{
		{
			name:    "bearer token",
			headers: map[string][]string{"Authorization": {"Bearer abc"}},
			want:    Credential{Kind: CredentialBearer, Value: "abc"},
		},
		{
			name:    "lowercase bearer",
			headers: map[string][]string{"Authorization": {"bearer abc"}},
			want:    Credential{Kind: CredentialBearer, Value: "abc"},
		},
		{
			name:    "api key",
			headers: map[string][]string{"X-API-Key": {"id.secret"}},
			want:    Credential{Kind: CredentialAPIKey, Value: "id.secret"},
		},
		{
			name:    "bearer wins over api key",
			headers: map[string][]string{"Authorization": {"Bearer abc"}, "X-API-Key": {"k"}},
			want:    Credential{Kind: CredentialBearer, Value: "abc"},
		},
		{
			name:    "malformed authorization",
			headers: map[string][]string{"Authorization": {"Basic dXNlcg=="}},
			want:    Credential{Kind: CredentialBearer, Value: ""},
		},
		{
			name: "nothing",
			want: Credential{Kind: CredentialNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := &request.Descriptor{
				Method:  "GET",
				Path:    "/v1/things",
				Query:   url.Values{},
				Headers: tt.headers,
			}
			assert.Equal(t, tt.want, ExtractCredential(desc))
		})
	}
}

func TestManager_Authenticate_NoCredentials(t *testing.T) {
	m := newTestManager(&fakeResolver{}, session.NewMemoryStore())

	_, err := m.Authenticate(context.Background(), Credential{Kind: CredentialNone})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

// issueSession followed by authenticate with the issued credential must
// return the same subject and an active session.
func TestManager_IssueSessionRoundTrip(t *testing.T) {
	store := session.NewMemoryStore()
	identity := &Identity{
		Subject: "user-1",
		Roles:   []rbac.Role{rbac.RoleUser},
		Method:  MethodJWT,
	}
	resolver := &fakeResolver{identity: identity}
	m := newTestManager(resolver, store)
	ctx := context.Background()

	sess, pair, err := m.IssueSession(ctx, identity, session.Metadata{ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, session.StatusActive, sess.Status)

	// Wire the fake resolver to the issued access token.
	bound := *identity
	bound.SessionID = sess.ID
	resolver.token = pair.AccessToken
	resolver.identity = &bound

	got, err := m.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: pair.AccessToken})
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)

	current, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, current.EffectiveStatus(time.Now()))
	assert.Equal(t, int64(1), current.RequestCount)
}

func TestManager_Authenticate_RevokedSession(t *testing.T) {
	store := session.NewMemoryStore()
	m := newTestManager(&fakeResolver{}, store)
	ctx := context.Background()

	sess, err := store.Issue(ctx, "user-1", time.Hour, session.Metadata{})
	require.NoError(t, err)
	require.NoError(t, m.RevokeSession(ctx, sess.ID, "logout"))

	resolver := &fakeResolver{
		token:    "tok",
		identity: &Identity{Subject: "user-1", SessionID: sess.ID, Method: MethodJWT},
	}
	m = newTestManager(resolver, store)

	_, err = m.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "tok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenRevoked))
}

func TestManager_Authenticate_ExpiredSession(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Issue(ctx, "user-1", -time.Minute, session.Metadata{})
	require.NoError(t, err)

	resolver := &fakeResolver{
		token:    "tok",
		identity: &Identity{Subject: "user-1", SessionID: sess.ID, Method: MethodJWT},
	}
	m := newTestManager(resolver, store)

	_, err = m.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "tok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenExpired))
}

func TestManager_RevokeSession_Idempotent(t *testing.T) {
	store := session.NewMemoryStore()
	m := newTestManager(&fakeResolver{}, store)
	ctx := context.Background()

	sess, err := store.Issue(ctx, "user-1", time.Hour, session.Metadata{})
	require.NoError(t, err)

	require.NoError(t, m.RevokeSession(ctx, sess.ID, "admin"))
	require.NoError(t, m.RevokeSession(ctx, sess.ID, "admin"))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRevoked, got.Status)
}

func TestManager_RevokeSession_Unknown(t *testing.T) {
	m := newTestManager(&fakeResolver{}, session.NewMemoryStore())
	err := m.RevokeSession(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoCredentials, "missing_credential"},
		{&Error{Reason: ErrTokenExpired}, "expired"},
		{&Error{Reason: ErrInvalidSignature}, "invalid_signature"},
		{&Error{Reason: ErrTokenRevoked}, "revoked"},
		{&Error{Reason: ErrAccountLocked}, "locked"},
		{&Error{Reason: ErrStoreUnavailable}, "store_unavailable"},
		{errors.New("odd"), "malformed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonOf(tt.err))
	}
}

// Every classified auth error matches the uniform failure, so callers
// cannot distinguish causes.
func TestError_UniformMatching(t *testing.T) {
	for _, reason := range []error{ErrTokenExpired, ErrInvalidSignature, ErrTokenRevoked} {
		err := &Error{Reason: reason}
		assert.True(t, errors.Is(err, ErrAuthenticationFailed), "reason %v", reason)
		assert.True(t, errors.Is(err, reason))
	}
}
