package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication operations. These classify the
// real cause for the audit trail; callers outside the pipeline only
// ever see the uniform ErrAuthenticationFailed.
var (
	// ErrNoCredentials indicates that no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrAuthenticationFailed is the uniform externally visible
	// authentication failure.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidSignature indicates that the token signature is invalid.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrTokenRevoked indicates that the token or session has been revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrMalformedCredential indicates a credential that could not be parsed.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrAccountLocked indicates the subject is locked out after
	// repeated failed attempts.
	ErrAccountLocked = errors.New("account locked")

	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable indicates the backing store could not be
	// reached within the bounded timeout. Authentication fails closed.
	ErrStoreUnavailable = errors.New("auth store unavailable")
)

// Error wraps an authentication error with its classification. The
// Reason is recorded in the audit trail; the external message is always
// the generic one.
type Error struct {
	// Reason is the sentinel classifying the failure.
	Reason error

	// Detail is operator-facing context, never shown to clients.
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("auth: %v: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("auth: %v", e.Reason)
}

// Unwrap returns the sentinel reason.
func (e *Error) Unwrap() error {
	return e.Reason
}

// Is reports whether the error matches the target. Every *Error matches
// ErrAuthenticationFailed so callers comparing against the uniform
// failure succeed regardless of the underlying reason.
func (e *Error) Is(target error) bool {
	if errors.Is(target, ErrAuthenticationFailed) {
		return true
	}
	return errors.Is(e.Reason, target)
}

// newError builds a classified authentication error.
func newError(reason error, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

// ReasonOf extracts the sentinel reason from an authentication error,
// for audit recording. Unknown errors classify as malformed.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredentials):
		return "missing_credential"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "malformed"
	}
}
