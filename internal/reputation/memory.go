package reputation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string]Entry
	allows map[string]Entry

	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// NewMemoryStore creates an in-memory reputation store with a one
// minute expiry sweep.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates an in-memory reputation
// store with a custom sweep interval. The sweep is memory hygiene
// only; expired entries are already ignored on read.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		blocks: make(map[string]Entry),
		allows: make(map[string]Entry),
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) sweep() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.blocks {
				if e.Expired(now) {
					delete(s.blocks, key)
				}
			}
			for key, e := range s.allows {
				if e.Expired(now) {
					delete(s.allows, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// IsBlocked implements Store.
func (s *MemoryStore) IsBlocked(ctx context.Context, key string) (bool, error) {
	allowed, err := s.IsAllowlisted(ctx, key)
	if err != nil {
		return false, err
	}
	if allowed {
		return false, nil
	}

	s.mu.RLock()
	e, ok := s.blocks[key]
	s.mu.RUnlock()

	return ok && !e.Expired(time.Now()), nil
}

// IsAllowlisted implements Store.
func (s *MemoryStore) IsAllowlisted(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	e, ok := s.allows[key]
	s.mu.RUnlock()

	return ok && !e.Expired(time.Now()), nil
}

// Block implements Store.
func (s *MemoryStore) Block(ctx context.Context, key string, d time.Duration, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	e := Entry{Key: key, Kind: KindBlock, Reason: reason, CreatedAt: now}
	if d > 0 {
		e.ExpiresAt = now.Add(d)
	}

	s.mu.Lock()
	s.blocks[key] = e
	s.mu.Unlock()
	return nil
}

// Unblock implements Store.
func (s *MemoryStore) Unblock(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.blocks, key)
	s.mu.Unlock()
	return nil
}

// Allowlist implements Store.
func (s *MemoryStore) Allowlist(ctx context.Context, key string, d time.Duration, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	e := Entry{Key: key, Kind: KindAllow, Reason: reason, CreatedAt: now}
	if d > 0 {
		e.ExpiresAt = now.Add(d)
	}

	s.mu.Lock()
	s.allows[key] = e
	s.mu.Unlock()
	return nil
}

// RemoveAllowlist implements Store.
func (s *MemoryStore) RemoveAllowlist(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.allows, key)
	s.mu.Unlock()
	return nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.blocks)+len(s.allows))
	for _, e := range s.blocks {
		if !e.Expired(now) {
			entries = append(entries, e)
		}
	}
	for _, e := range s.allows {
		if !e.Expired(now) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ticker.Stop()
	close(s.done)
	return nil
}
