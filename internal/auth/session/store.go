package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Store errors.
var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")
)

// Store persists sessions. Implementations return snapshots only; the
// stored session is never shared by reference with callers.
type Store interface {
	// Issue creates a new active session for the subject.
	Issue(ctx context.Context, subject string, ttl time.Duration, meta Metadata) (*Session, error)

	// Get returns a snapshot of the session.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch records one authorized request: bumps LastActiveAt and
	// RequestCount. Racing touches are last-writer-wins.
	Touch(ctx context.Context, id string, at time.Time) error

	// Revoke marks the session revoked. Revoking an already revoked
	// session is a no-op success.
	Revoke(ctx context.Context, id, reason string) error

	// List returns snapshots of all sessions for the subject. An empty
	// subject lists every session.
	List(ctx context.Context, subject string) ([]*Session, error)
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   observability.Logger
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*MemoryStore)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger observability.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Issue creates a new active session for the subject.
func (s *MemoryStore) Issue(ctx context.Context, subject string, ttl time.Duration, meta Metadata) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Subject:      subject,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		LastActiveAt: now,
		Status:       StatusActive,
		ClientIP:     meta.ClientIP,
		UserAgent:    meta.UserAgent,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.WithContext(ctx).Debug("session issued",
		observability.String("session_id", sess.ID),
		observability.String("subject", subject),
	)

	return sess.snapshot(), nil
}

// Get returns a snapshot of the session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.snapshot(), nil
}

// Touch records one authorized request.
func (s *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActiveAt = at
	sess.RequestCount++
	return nil
}

// Revoke marks the session revoked.
func (s *MemoryStore) Revoke(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == StatusRevoked {
		return nil
	}
	sess.Status = StatusRevoked

	s.logger.WithContext(ctx).Info("session revoked",
		observability.String("session_id", id),
		observability.String("reason", reason),
	)
	return nil
}

// List returns snapshots of all sessions for the subject.
func (s *MemoryStore) List(ctx context.Context, subject string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if subject == "" || sess.Subject == subject {
			out = append(out, sess.snapshot())
		}
	}
	return out, nil
}
