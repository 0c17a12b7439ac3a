// Package jwt issues and validates the pipeline's bearer tokens using
// jwx. Access tokens carry subject, roles, permissions and expiry;
// refresh tokens are single purpose and optionally one-time-use.
package jwt

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
)

// Token use values distinguishing access from refresh tokens.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Config holds JWT configuration.
type Config struct {
	// Issuer is the iss claim set on issued tokens and required on
	// validated ones.
	Issuer string `yaml:"issuer"`

	// Audience is the aud claim, optional.
	Audience string `yaml:"audience,omitempty"`

	// Algorithm is the signing algorithm (HS256, HS384, HS512).
	Algorithm string `yaml:"algorithm"`

	// Secret is the shared HMAC secret. Never logged.
	Secret string `yaml:"secret"`

	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration `yaml:"accessTTL"`

	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration `yaml:"refreshTTL"`

	// ClockSkew is the acceptable clock skew during validation.
	ClockSkew time.Duration `yaml:"clockSkew"`

	// OneTimeRefresh enables one-time-use refresh tokens. A replayed
	// refresh token is treated as revoked.
	OneTimeRefresh bool `yaml:"oneTimeRefresh"`
}

// DefaultConfig returns a Config with default values. The secret has no
// default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Issuer:         "avsecmw",
		Algorithm:      "HS256",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     24 * time.Hour,
		ClockSkew:      30 * time.Second,
		OneTimeRefresh: true,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("jwt: secret is required")
	}
	if _, err := c.signatureAlgorithm(); err != nil {
		return err
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("jwt: accessTTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("jwt: refreshTTL must be positive")
	}
	return nil
}

// signatureAlgorithm maps the configured algorithm name to a jwa value.
func (c *Config) signatureAlgorithm() (jwa.SignatureAlgorithm, error) {
	switch c.Algorithm {
	case "", "HS256":
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	default:
		return "", fmt.Errorf("jwt: unsupported algorithm %q", c.Algorithm)
	}
}
