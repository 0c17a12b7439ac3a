package apikey

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Credential format: "<key id>.<secret>".
const credentialSeparator = "."

// Validator validates presented API key credentials.
type Validator interface {
	// Validate checks the credential and returns the matching key.
	// Failures are classified with the auth package sentinels.
	Validate(ctx context.Context, credential string) (*Key, error)
}

// validator implements the Validator interface.
type validator struct {
	store  Store
	hasher Hasher
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

// WithHasher sets the hasher used for secret comparison.
func WithHasher(hasher Hasher) ValidatorOption {
	return func(v *validator) {
		v.hasher = hasher
	}
}

// NewValidator creates a new API key validator.
func NewValidator(store Store, opts ...ValidatorOption) Validator {
	v := &validator{
		store:  store,
		hasher: SHA256Hasher{},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Validate checks the credential and returns the matching key.
func (v *validator) Validate(ctx context.Context, credential string) (*Key, error) {
	if credential == "" {
		return nil, auth.ErrNoCredentials
	}

	id, secret, ok := strings.Cut(credential, credentialSeparator)
	if !ok || id == "" || secret == "" {
		return nil, &auth.Error{Reason: auth.ErrMalformedCredential, Detail: "api key credential format"}
	}

	key, err := v.store.Get(ctx, id)
	if err != nil {
		// Unknown key and wrong secret are indistinguishable to the
		// caller; only the audit detail differs.
		return nil, &auth.Error{Reason: auth.ErrInvalidSignature, Detail: "unknown key id"}
	}

	if !v.hasher.Compare(key.SecretHash, secret) {
		return nil, &auth.Error{Reason: auth.ErrInvalidSignature, Detail: "secret mismatch"}
	}

	if key.Revoked {
		return nil, &auth.Error{Reason: auth.ErrTokenRevoked, Detail: "api key revoked"}
	}

	if key.IsExpired() {
		return nil, &auth.Error{Reason: auth.ErrTokenExpired, Detail: "api key expired"}
	}

	if count, err := v.store.RecordUse(ctx, key.ID); err == nil {
		key.usageCount.Store(count)
	}

	v.logger.WithContext(ctx).Debug("api key validated",
		observability.String("key_id", key.ID),
		observability.String("subject", key.Subject),
	)

	return key, nil
}
