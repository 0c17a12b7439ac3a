// Package store provides the shared counter storage used by the rate
// limiter. Implementations must make Increment atomic per key; plain
// read-modify-write is incorrect under concurrent load.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is a key to counter map with atomic increments and expiry.
type Store interface {
	// Get retrieves the value for the key. Missing or expired keys
	// return ErrKeyNotFound.
	Get(ctx context.Context, key string) (int64, error)

	// Set sets the value with an expiration. Zero expiration means no
	// expiry.
	Set(ctx context.Context, key string, value int64, expiration time.Duration) error

	// IncrementWithExpiry atomically increments the key by delta and
	// sets the expiration if the key is new. Returns the new value.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Delete removes the key.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is absent or expired.
var ErrKeyNotFound = errors.New("ratelimit: key not found")

// ErrUnavailable is returned when the backing store cannot be reached
// within its deadline. Callers decide fail-open versus fail-closed.
var ErrUnavailable = errors.New("ratelimit: store unavailable")
