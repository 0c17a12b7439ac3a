package config

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/audit"
	"github.com/vyrodovalexey/avsecmw/internal/auth/jwt"
	"github.com/vyrodovalexey/avsecmw/internal/auth/local"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
	"github.com/vyrodovalexey/avsecmw/internal/pipeline"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit"
	"github.com/vyrodovalexey/avsecmw/internal/ratelimit/store"
	"github.com/vyrodovalexey/avsecmw/internal/security"
)

// Store backend names.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the complete configuration of the security middleware
// pipeline. Fields absent from the YAML file keep their defaults, so
// loading starts from DefaultConfig and unmarshals over it.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Reputation ReputationConfig `yaml:"reputation"`
	Auth       AuthConfig       `yaml:"auth"`
	Audit      AuditConfig      `yaml:"audit"`
	Security   security.Config  `yaml:"security"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	Port               int      `yaml:"port"`
	ReadTimeout        Duration `yaml:"readTimeout"`
	WriteTimeout       Duration `yaml:"writeTimeout"`
	IdleTimeout        Duration `yaml:"idleTimeout"`
	MaxRequestBodySize int64    `yaml:"maxRequestBodySize"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig tunes the evaluation chain.
type PipelineConfig struct {
	CriticalSeverity     int      `yaml:"criticalSeverity"`
	AuthFailureThreshold int      `yaml:"authFailureThreshold"`
	AuthFailureWindow    Duration `yaml:"authFailureWindow"`
	BlockDuration        Duration `yaml:"blockDuration"`
	CheckTimeout         Duration `yaml:"checkTimeout"`
	MaxScanBodyBytes     int64    `yaml:"maxScanBodyBytes"`
}

// RateLimitConfig configures the dual sliding windows.
type RateLimitConfig struct {
	Store               string   `yaml:"store"`
	PerMinute           int      `yaml:"perMinute"`
	PerHour             int      `yaml:"perHour"`
	EscalationThreshold int      `yaml:"escalationThreshold"`
	EscalationWindow    Duration `yaml:"escalationWindow"`
}

// ReputationConfig configures the IP reputation store.
type ReputationConfig struct {
	Store string `yaml:"store"`
}

// AuthConfig groups the authentication mechanisms.
type AuthConfig struct {
	JWT     JWTConfig     `yaml:"jwt"`
	APIKey  APIKeyConfig  `yaml:"apiKey"`
	Session SessionConfig `yaml:"session"`
	Local   LocalConfig   `yaml:"local"`
}

// JWTConfig configures bearer token issuance and validation.
type JWTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	Algorithm      string   `yaml:"algorithm"`
	Secret         string   `yaml:"secret"`
	AccessTTL      Duration `yaml:"accessTTL"`
	RefreshTTL     Duration `yaml:"refreshTTL"`
	ClockSkew      Duration `yaml:"clockSkew"`
	OneTimeRefresh bool     `yaml:"oneTimeRefresh"`
}

// APIKeyConfig configures API key authentication.
type APIKeyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SessionConfig configures server-side sessions.
type SessionConfig struct {
	TTL Duration `yaml:"ttl"`
}

// LocalConfig configures local credential verification and lockout.
type LocalConfig struct {
	MaxFailures       int      `yaml:"maxFailures"`
	FailureWindow     Duration `yaml:"failureWindow"`
	LockoutDuration   Duration `yaml:"lockoutDuration"`
	AttemptsPerSecond float64  `yaml:"attemptsPerSecond"`
	AttemptBurst      int      `yaml:"attemptBurst"`
}

// AuditConfig configures the audit trail retention.
type AuditConfig struct {
	// Retention holds per-category retention periods keyed by category
	// name. Categories absent from the map use DefaultRetention.
	Retention        map[string]Duration `yaml:"retention"`
	DefaultRetention Duration            `yaml:"defaultRetention"`
	ReapInterval     Duration            `yaml:"reapInterval"`
}

// RedisConfig configures the shared redis client.
type RedisConfig struct {
	Address        string   `yaml:"address"`
	Password       string   `yaml:"password"`
	DB             int      `yaml:"db"`
	PoolSize       int      `yaml:"poolSize"`
	MinIdleConns   int      `yaml:"minIdleConns"`
	MaxRetries     int      `yaml:"maxRetries"`
	DialTimeout    Duration `yaml:"dialTimeout"`
	ReadTimeout    Duration `yaml:"readTimeout"`
	WriteTimeout   Duration `yaml:"writeTimeout"`
	ConnectRetries int      `yaml:"connectRetries"`
	ConnectBackoff Duration `yaml:"connectBackoff"`
}

// DefaultConfig returns the configuration used when no file overrides
// anything.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        Duration(30 * time.Second),
			WriteTimeout:       Duration(30 * time.Second),
			IdleTimeout:        Duration(120 * time.Second),
			MaxRequestBodySize: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pipeline: PipelineConfig{
			CriticalSeverity:     8,
			AuthFailureThreshold: 5,
			AuthFailureWindow:    Duration(5 * time.Minute),
			BlockDuration:        Duration(15 * time.Minute),
			CheckTimeout:         Duration(2 * time.Second),
			MaxScanBodyBytes:     64 << 10,
		},
		RateLimit: RateLimitConfig{
			Store:               StoreMemory,
			PerMinute:           60,
			PerHour:             1000,
			EscalationThreshold: 5,
			EscalationWindow:    Duration(time.Minute),
		},
		Reputation: ReputationConfig{
			Store: StoreMemory,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Enabled:        true,
				Issuer:         "secmw",
				Algorithm:      "HS256",
				AccessTTL:      Duration(15 * time.Minute),
				RefreshTTL:     Duration(24 * time.Hour),
				ClockSkew:      Duration(30 * time.Second),
				OneTimeRefresh: true,
			},
			APIKey: APIKeyConfig{
				Enabled: true,
			},
			Session: SessionConfig{
				TTL: Duration(time.Hour),
			},
			Local: LocalConfig{
				MaxFailures:       5,
				FailureWindow:     Duration(5 * time.Minute),
				LockoutDuration:   Duration(15 * time.Minute),
				AttemptsPerSecond: 5,
				AttemptBurst:      10,
			},
		},
		Audit: AuditConfig{
			DefaultRetention: Duration(90 * audit.Day),
			ReapInterval:     Duration(time.Hour),
			Retention: map[string]Duration{
				string(audit.CategorySecurity):       Duration(365 * audit.Day),
				string(audit.CategoryCompliance):     Duration(365 * audit.Day),
				string(audit.CategoryAuthentication): Duration(180 * audit.Day),
				string(audit.CategoryAuthorization):  Duration(180 * audit.Day),
				string(audit.CategoryData):           Duration(180 * audit.Day),
				string(audit.CategoryRateLimit):      Duration(90 * audit.Day),
				string(audit.CategorySystem):         Duration(90 * audit.Day),
				string(audit.CategorySession):        Duration(30 * audit.Day),
			},
		},
		Security: *security.DefaultConfig(),
		Redis: RedisConfig{
			Address:        "localhost:6379",
			PoolSize:       10,
			MinIdleConns:   2,
			MaxRetries:     3,
			DialTimeout:    Duration(5 * time.Second),
			ReadTimeout:    Duration(3 * time.Second),
			WriteTimeout:   Duration(3 * time.Second),
			ConnectRetries: 5,
			ConnectBackoff: Duration(time.Second),
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Pipeline.CriticalSeverity < 1 || c.Pipeline.CriticalSeverity > 10 {
		return fmt.Errorf("config: critical severity %d out of range [1, 10]", c.Pipeline.CriticalSeverity)
	}
	if c.Pipeline.AuthFailureThreshold < 1 {
		return fmt.Errorf("config: auth failure threshold must be positive")
	}
	if c.RateLimit.PerMinute < 1 || c.RateLimit.PerHour < 1 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	if c.RateLimit.Store != StoreMemory && c.RateLimit.Store != StoreRedis {
		return fmt.Errorf("config: unknown rate limit store %q", c.RateLimit.Store)
	}
	if c.Reputation.Store != StoreMemory && c.Reputation.Store != StoreRedis {
		return fmt.Errorf("config: unknown reputation store %q", c.Reputation.Store)
	}
	if c.Auth.JWT.Enabled {
		if err := c.Auth.JWT.ToJWT().Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Audit.DefaultRetention <= 0 {
		return fmt.Errorf("config: default audit retention must be positive")
	}
	for category, period := range c.Audit.Retention {
		if period <= 0 {
			return fmt.Errorf("config: audit retention for %q must be positive", category)
		}
	}
	if needsRedis := c.RateLimit.Store == StoreRedis || c.Reputation.Store == StoreRedis; needsRedis && c.Redis.Address == "" {
		return fmt.Errorf("config: redis address is required for redis-backed stores")
	}
	return nil
}

// ToPipeline converts to the pipeline package's configuration.
func (p *PipelineConfig) ToPipeline() *pipeline.Config {
	return &pipeline.Config{
		CriticalSeverity:     p.CriticalSeverity,
		AuthFailureThreshold: p.AuthFailureThreshold,
		AuthFailureWindow:    time.Duration(p.AuthFailureWindow),
		BlockDuration:        time.Duration(p.BlockDuration),
		CheckTimeout:         time.Duration(p.CheckTimeout),
	}
}

// ToRateLimit converts to the ratelimit package's configuration.
func (r *RateLimitConfig) ToRateLimit() *ratelimit.Config {
	return &ratelimit.Config{
		PerMinute:           r.PerMinute,
		PerHour:             r.PerHour,
		EscalationThreshold: r.EscalationThreshold,
		EscalationWindow:    time.Duration(r.EscalationWindow),
	}
}

// ToJWT converts to the jwt package's configuration.
func (j *JWTConfig) ToJWT() *jwt.Config {
	return &jwt.Config{
		Issuer:         j.Issuer,
		Audience:       j.Audience,
		Algorithm:      j.Algorithm,
		Secret:         j.Secret,
		AccessTTL:      time.Duration(j.AccessTTL),
		RefreshTTL:     time.Duration(j.RefreshTTL),
		ClockSkew:      time.Duration(j.ClockSkew),
		OneTimeRefresh: j.OneTimeRefresh,
	}
}

// ToLocal converts to the local auth package's configuration.
func (l *LocalConfig) ToLocal() *local.Config {
	return &local.Config{
		MaxFailures:       l.MaxFailures,
		FailureWindow:     time.Duration(l.FailureWindow),
		LockoutDuration:   time.Duration(l.LockoutDuration),
		AttemptsPerSecond: l.AttemptsPerSecond,
		AttemptBurst:      l.AttemptBurst,
	}
}

// RetentionPolicy converts to the audit package's retention policy.
func (a *AuditConfig) RetentionPolicy() *audit.RetentionPolicy {
	policy := &audit.RetentionPolicy{
		Periods: make(map[audit.Category]time.Duration, len(a.Retention)),
		Default: time.Duration(a.DefaultRetention),
	}
	for category, period := range a.Retention {
		policy.Periods[audit.Category(category)] = time.Duration(period)
	}
	return policy
}

// ToStore converts to the rate limit store's redis configuration.
func (r *RedisConfig) ToStore(prefix string, logger observability.Logger) *store.RedisConfig {
	return &store.RedisConfig{
		Address:        r.Address,
		Password:       r.Password,
		DB:             r.DB,
		Prefix:         prefix,
		PoolSize:       r.PoolSize,
		MinIdleConns:   r.MinIdleConns,
		MaxRetries:     r.MaxRetries,
		DialTimeout:    time.Duration(r.DialTimeout),
		ReadTimeout:    time.Duration(r.ReadTimeout),
		WriteTimeout:   time.Duration(r.WriteTimeout),
		ConnectRetries: r.ConnectRetries,
		ConnectBackoff: time.Duration(r.ConnectBackoff),
		Logger:         logger,
	}
}

// ToLog converts to the observability package's logging configuration.
func (l *LogConfig) ToLog() observability.LogConfig {
	return observability.LogConfig{
		Level:  l.Level,
		Format: l.Format,
		Output: l.Output,
	}
}
