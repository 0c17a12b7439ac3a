package jwt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Signer creates signed tokens. Each method returns the signed token
// together with the expiry written into it.
type Signer interface {
	// SignAccess creates a signed access token for the subject.
	SignAccess(ctx context.Context, claims *Claims) (string, time.Time, error)

	// SignRefresh creates a signed refresh token for the subject.
	SignRefresh(ctx context.Context, claims *Claims) (string, time.Time, error)
}

// signer implements the Signer interface.
type signer struct {
	config *Config
	logger observability.Logger
	now    func() time.Time
}

// SignerOption is a functional option for the signer.
type SignerOption func(*signer)

// WithSignerLogger sets the logger for the signer.
func WithSignerLogger(logger observability.Logger) SignerOption {
	return func(s *signer) {
		s.logger = logger
	}
}

// WithSignerClock sets the time source, for tests.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *signer) {
		s.now = now
	}
}

// NewSigner creates a new token signer.
func NewSigner(config *Config, opts ...SignerOption) (Signer, error) {
	if config == nil {
		return nil, fmt.Errorf("jwt: config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &signer{
		config: config,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// SignAccess creates a signed access token.
func (s *signer) SignAccess(ctx context.Context, claims *Claims) (string, time.Time, error) {
	return s.sign(ctx, claims, UseAccess, s.config.AccessTTL)
}

// SignRefresh creates a signed refresh token.
func (s *signer) SignRefresh(ctx context.Context, claims *Claims) (string, time.Time, error) {
	return s.sign(ctx, claims, UseRefresh, s.config.RefreshTTL)
}

func (s *signer) sign(ctx context.Context, claims *Claims, use string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	builder := jwt.NewBuilder().
		Subject(claims.Subject).
		Issuer(s.config.Issuer).
		IssuedAt(now).
		Expiration(expiresAt).
		JwtID(uuid.NewString()).
		Claim(claimTokenUse, use)

	if s.config.Audience != "" {
		builder = builder.Audience([]string{s.config.Audience})
	}
	if claims.Username != "" {
		builder = builder.Claim(claimUsername, claims.Username)
	}
	if len(claims.Roles) > 0 {
		builder = builder.Claim(claimRoles, claims.Roles)
	}
	if len(claims.Permissions) > 0 {
		builder = builder.Claim(claimPermissions, claims.Permissions)
	}
	if claims.SessionID != "" {
		builder = builder.Claim(claimSessionID, claims.SessionID)
	}

	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: building token: %w", err)
	}

	alg, err := s.config.signatureAlgorithm()
	if err != nil {
		return "", time.Time{}, err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(alg, []byte(s.config.Secret)))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: signing token: %w", err)
	}

	s.logger.WithContext(ctx).Debug("token signed",
		observability.String("subject", claims.Subject),
		observability.String("use", use),
	)

	return string(signed), expiresAt, nil
}
