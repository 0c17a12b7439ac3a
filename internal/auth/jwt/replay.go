package jwt

import (
	"sync"
	"time"
)

// ReplayCache remembers refresh token IDs that have already been used,
// for the one-time-use refresh scheme. Entries expire with the token
// itself; a seen jti inside its lifetime means replay.
type ReplayCache interface {
	// MarkUsed records the jti as used until expiry. It returns false
	// if the jti was already marked, which callers treat as a replay.
	MarkUsed(jti string, expiresAt time.Time) bool
}

// memoryReplayCache is an in-process ReplayCache.
type memoryReplayCache struct {
	mu      sync.Mutex
	used    map[string]time.Time
	sweep   int
	now     func() time.Time
}

// sweepEvery controls how many MarkUsed calls pass between lazy sweeps
// of expired entries.
const sweepEvery = 256

// NewMemoryReplayCache creates an in-process replay cache.
func NewMemoryReplayCache() ReplayCache {
	return &memoryReplayCache{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// MarkUsed records the jti as used until expiry.
func (c *memoryReplayCache) MarkUsed(jti string, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	c.sweep++
	if c.sweep >= sweepEvery {
		c.sweep = 0
		for id, exp := range c.used {
			if now.After(exp) {
				delete(c.used, id)
			}
		}
	}

	if exp, ok := c.used[jti]; ok && now.Before(exp) {
		return false
	}

	c.used[jti] = expiresAt
	return true
}
