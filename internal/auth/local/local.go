// Package local verifies username/password credentials. Passwords are
// stored as bcrypt hashes only; verification applies a per-subject
// lockout policy and a token-bucket throttle on attempts.
package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avsecmw/internal/auth"
	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Config holds local authentication configuration.
type Config struct {
	// MaxFailures is the number of consecutive failed attempts within
	// FailureWindow that triggers a lockout.
	MaxFailures int `yaml:"maxFailures"`

	// FailureWindow is the window over which consecutive failures count.
	FailureWindow time.Duration `yaml:"failureWindow"`

	// LockoutDuration is the cool-down during which authentication is
	// denied regardless of credential correctness.
	LockoutDuration time.Duration `yaml:"lockoutDuration"`

	// AttemptsPerSecond throttles verification attempts per subject.
	AttemptsPerSecond float64 `yaml:"attemptsPerSecond"`

	// AttemptBurst is the throttle burst size.
	AttemptBurst int `yaml:"attemptBurst"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:       5,
		FailureWindow:     5 * time.Minute,
		LockoutDuration:   15 * time.Minute,
		AttemptsPerSecond: 5,
		AttemptBurst:      10,
	}
}

// Account is a locally stored credential record.
type Account struct {
	// Subject is the account's subject identifier.
	Subject string

	// Username is the login name.
	Username string

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string

	// Roles are the roles granted on successful login.
	Roles []rbac.Role
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// attemptState tracks failures and throttling for one subject.
type attemptState struct {
	failures     int
	firstFailure time.Time
	lockedUntil  time.Time
	limiter      *rate.Limiter
}

// Authenticator verifies local credentials.
type Authenticator struct {
	config   *Config
	logger   observability.Logger
	now      func() time.Time

	mu       sync.Mutex
	accounts map[string]*Account
	attempts map[string]*attemptState
}

// Option is a functional option for the authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates a local authenticator.
func NewAuthenticator(config *Config, opts ...Option) *Authenticator {
	if config == nil {
		config = DefaultConfig()
	}

	a := &Authenticator{
		config:   config,
		logger:   observability.NopLogger(),
		now:      time.Now,
		accounts: make(map[string]*Account),
		attempts: make(map[string]*attemptState),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AddAccount registers an account. Existing accounts with the same
// username are replaced.
func (a *Authenticator) AddAccount(account *Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[account.Username] = account
}

// Verify checks the username/password pair. All failures return the
// classified error for the audit trail; callers surface the uniform
// authentication failure to clients. A locked account fails with
// ErrAccountLocked regardless of credential correctness.
func (a *Authenticator) Verify(ctx context.Context, username, password string) (*Account, error) {
	now := a.now()

	a.mu.Lock()
	account := a.accounts[username]
	state := a.state(username)
	// Copy the lockout deadline while holding the lock; recordFailure
	// writes it under the same lock. The limiter is internally
	// synchronized and never replaced.
	lockedUntil := state.lockedUntil
	limiter := state.limiter
	a.mu.Unlock()

	if lockedUntil.After(now) {
		return nil, &auth.Error{Reason: auth.ErrAccountLocked, Detail: "lockout active"}
	}

	if !limiter.AllowN(now, 1) {
		// Throttle exhaustion counts as a failure, not a lockout.
		return nil, &auth.Error{Reason: auth.ErrAccountLocked, Detail: "attempt throttle"}
	}

	// Unknown user still burns a bcrypt comparison so timing does not
	// reveal account existence.
	hash := unknownAccountHash
	if account != nil {
		hash = account.PasswordHash
	}

	matchErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if account == nil || matchErr != nil {
		a.recordFailure(username, now)
		return nil, &auth.Error{Reason: auth.ErrInvalidSignature, Detail: "unknown user or wrong password"}
	}

	a.recordSuccess(username)

	a.logger.WithContext(ctx).Debug("local login verified",
		observability.String("subject", account.Subject),
	)

	return account, nil
}

// unknownAccountHash is a bcrypt hash of a random value, compared
// against when the username is unknown to equalize timing.
var unknownAccountHash = func() string {
	out, err := bcrypt.GenerateFromPassword([]byte("avsecmw-unknown-account"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(out)
}()

// state returns the attempt state for the username, creating it if
// needed. Caller holds the mutex.
func (a *Authenticator) state(username string) *attemptState {
	state, ok := a.attempts[username]
	if !ok {
		state = &attemptState{
			limiter: rate.NewLimiter(rate.Limit(a.config.AttemptsPerSecond), a.config.AttemptBurst),
		}
		a.attempts[username] = state
	}
	return state
}

func (a *Authenticator) recordFailure(username string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state(username)
	if state.failures == 0 || now.Sub(state.firstFailure) > a.config.FailureWindow {
		state.failures = 0
		state.firstFailure = now
	}
	state.failures++

	if state.failures >= a.config.MaxFailures {
		state.lockedUntil = now.Add(a.config.LockoutDuration)
		state.failures = 0
		a.logger.Warn("account locked out",
			observability.String("username", username),
			observability.Time("until", state.lockedUntil),
		)
	}
}

func (a *Authenticator) recordSuccess(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state(username)
	state.failures = 0
	state.firstFailure = time.Time{}
}
