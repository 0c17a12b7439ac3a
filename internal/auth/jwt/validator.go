package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Validator validates signed tokens.
type Validator interface {
	// Validate verifies the token signature and time claims and returns
	// the decoded claims. Failures are classified with the auth package
	// sentinels.
	Validate(ctx context.Context, token string) (*Claims, error)
}

// validator implements the Validator interface.
type validator struct {
	config *Config
	logger observability.Logger
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// NewValidator creates a new token validator.
func NewValidator(config *Config, opts ...ValidatorOption) (Validator, error) {
	if config == nil {
		return nil, fmt.Errorf("jwt: config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	v := &validator{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Validate verifies the token and returns the decoded claims.
func (v *validator) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, auth.ErrNoCredentials
	}

	alg, err := v.config.signatureAlgorithm()
	if err != nil {
		return nil, err
	}

	options := []jwt.ParseOption{
		jwt.WithKey(alg, []byte(v.config.Secret)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.config.ClockSkew),
		jwt.WithIssuer(v.config.Issuer),
	}
	if v.config.Audience != "" {
		options = append(options, jwt.WithAudience(v.config.Audience))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return nil, v.classify(ctx, err)
	}

	claims := &Claims{
		Subject:   parsed.Subject(),
		ID:        parsed.JwtID(),
		IssuedAt:  parsed.IssuedAt(),
		ExpiresAt: parsed.Expiration(),
	}

	if raw, ok := parsed.Get(claimUsername); ok {
		claims.Username = stringClaim(raw)
	}
	if raw, ok := parsed.Get(claimRoles); ok {
		claims.Roles = stringSlice(raw)
	}
	if raw, ok := parsed.Get(claimPermissions); ok {
		claims.Permissions = stringSlice(raw)
	}
	if raw, ok := parsed.Get(claimTokenUse); ok {
		claims.TokenUse = stringClaim(raw)
	}
	if raw, ok := parsed.Get(claimSessionID); ok {
		claims.SessionID = stringClaim(raw)
	}

	return claims, nil
}

// classify maps jwx parse failures onto the auth sentinels. The precise
// reason is logged for the audit trail; callers surface only the
// uniform failure.
func (v *validator) classify(ctx context.Context, err error) error {
	var reason error
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		reason = auth.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotYetValid()):
		reason = auth.ErrMalformedCredential
	case jwt.IsValidationError(err):
		reason = auth.ErrMalformedCredential
	default:
		// Parse or signature verification failure.
		reason = auth.ErrInvalidSignature
	}

	v.logger.WithContext(ctx).Debug("token validation failed",
		observability.Error(err),
		observability.Time("at", time.Now()),
	)

	return &auth.Error{Reason: reason, Detail: err.Error()}
}
