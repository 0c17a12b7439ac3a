package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// RedisStore implements Store on Redis. Sessions are stored as JSON
// values with a TTL matching the session expiry, so Redis evicts what
// the lazy expiry would mark expired anyway.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the logger.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "session:",
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// subjectKey indexes session IDs per subject for List.
func (s *RedisStore) subjectKey(subject string) string {
	return s.prefix + "subject:" + subject
}

// Issue creates a new active session for the subject.
func (s *RedisStore) Issue(ctx context.Context, subject string, ttl time.Duration, meta Metadata) (*Session, error) {
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

	if err := s.write(ctx, sess, ttl); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.subjectKey(subject), sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("session: indexing session: %w", err)
	}

	return sess, nil
}

// Get returns a snapshot of the session.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decoding session: %w", err)
	}
	return &sess, nil
}

// Touch records one authorized request. Read-modify-write without a
// transaction: LastActiveAt and RequestCount tolerate last-writer-wins.
func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastActiveAt = at
	sess.RequestCount++
	return s.write(ctx, sess, time.Until(sess.ExpiresAt))
}

// Revoke marks the session revoked.
func (s *RedisStore) Revoke(ctx context.Context, id, reason string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if sess.Status == StatusRevoked {
		return nil
	}
	sess.Status = StatusRevoked

	s.logger.WithContext(ctx).Info("session revoked",
		observability.String("session_id", id),
		observability.String("reason", reason),
	)

	// Keep revoked sessions readable until their natural expiry so
	// token checks can distinguish revoked from unknown.
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.write(ctx, sess, ttl)
}

// List returns snapshots of all sessions for the subject.
func (s *RedisStore) List(ctx context.Context, subject string) ([]*Session, error) {
	if subject == "" {
		return s.listAll(ctx)
	}

	ids, err := s.client.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: listing sessions: %w", err)
	}

	var out []*Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Evicted by Redis; drop the stale index entry.
			s.client.SRem(ctx, s.subjectKey(subject), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) listAll(ctx context.Context) ([]*Session, error) {
	var out []*Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session: scanning sessions: %w", err)
	}
	return out, nil
}

func (s *RedisStore) write(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encoding session: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: writing session: %w", err)
	}
	return nil
}
