package security

// Config configures the security response headers.
type Config struct {
	// Enabled enables header injection.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// XFrameOptions sets the X-Frame-Options header.
	// Valid values: DENY, SAMEORIGIN.
	XFrameOptions string `yaml:"xFrameOptions,omitempty" json:"xFrameOptions,omitempty"`

	// XContentTypeOptions sets the X-Content-Type-Options header.
	XContentTypeOptions string `yaml:"xContentTypeOptions,omitempty" json:"xContentTypeOptions,omitempty"`

	// XXSSProtection sets the X-XSS-Protection header.
	XXSSProtection string `yaml:"xXSSProtection,omitempty" json:"xXSSProtection,omitempty"`

	// ReferrerPolicy sets the Referrer-Policy header.
	ReferrerPolicy string `yaml:"referrerPolicy,omitempty" json:"referrerPolicy,omitempty"`

	// ContentSecurityPolicy sets the Content-Security-Policy header.
	ContentSecurityPolicy string `yaml:"contentSecurityPolicy,omitempty" json:"contentSecurityPolicy,omitempty"`

	// HSTS configures Strict-Transport-Security. Only applied to
	// requests arriving over TLS.
	HSTS HSTSConfig `yaml:"hsts,omitempty" json:"hsts,omitempty"`

	// CustomHeaders are additional headers set verbatim.
	CustomHeaders map[string]string `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	MaxAge            int  `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
	IncludeSubDomains bool `yaml:"includeSubDomains,omitempty" json:"includeSubDomains,omitempty"`
	Preload           bool `yaml:"preload,omitempty" json:"preload,omitempty"`
}

// DefaultConfig returns the default header configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		XXSSProtection:        "1; mode=block",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		HSTS: HSTSConfig{
			Enabled:           true,
			MaxAge:            31536000,
			IncludeSubDomains: true,
		},
	}
}
