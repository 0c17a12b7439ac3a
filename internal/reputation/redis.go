package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blockKeyPrefix = "block:"
	allowKeyPrefix = "allow:"
)

// RedisStore implements Store on Redis. Temporary entries rely on
// Redis key expiry, so expired entries disappear without a sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis reputation store around an existing
// client. The prefix namespaces all reputation keys.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "secmw:reputation:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) blockKey(key string) string {
	return s.prefix + blockKeyPrefix + key
}

func (s *RedisStore) allowKey(key string) string {
	return s.prefix + allowKeyPrefix + key
}

func (s *RedisStore) getEntry(ctx context.Context, redisKey string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get reputation entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal reputation entry: %w", err)
	}
	if e.Expired(time.Now()) {
		return nil, nil
	}
	return &e, nil
}

func (s *RedisStore) setEntry(ctx context.Context, redisKey string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal reputation entry: %w", err)
	}

	var ttl time.Duration
	if !e.ExpiresAt.IsZero() {
		ttl = time.Until(e.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	if err := s.client.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set reputation entry: %w", err)
	}
	return nil
}

// IsBlocked implements Store.
func (s *RedisStore) IsBlocked(ctx context.Context, key string) (bool, error) {
	allow, err := s.getEntry(ctx, s.allowKey(key))
	if err != nil {
		return false, err
	}
	if allow != nil {
		return false, nil
	}

	block, err := s.getEntry(ctx, s.blockKey(key))
	if err != nil {
		return false, err
	}
	return block != nil, nil
}

// IsAllowlisted implements Store.
func (s *RedisStore) IsAllowlisted(ctx context.Context, key string) (bool, error) {
	allow, err := s.getEntry(ctx, s.allowKey(key))
	if err != nil {
		return false, err
	}
	return allow != nil, nil
}

// Block implements Store.
func (s *RedisStore) Block(ctx context.Context, key string, d time.Duration, reason string) error {
	now := time.Now()
	e := Entry{Key: key, Kind: KindBlock, Reason: reason, CreatedAt: now}
	if d > 0 {
		e.ExpiresAt = now.Add(d)
	}
	return s.setEntry(ctx, s.blockKey(key), e)
}

// Unblock implements Store.
func (s *RedisStore) Unblock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.blockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del reputation entry: %w", err)
	}
	return nil
}

// Allowlist implements Store.
func (s *RedisStore) Allowlist(ctx context.Context, key string, d time.Duration, reason string) error {
	now := time.Now()
	e := Entry{Key: key, Kind: KindAllow, Reason: reason, CreatedAt: now}
	if d > 0 {
		e.ExpiresAt = now.Add(d)
	}
	return s.setEntry(ctx, s.allowKey(key), e)
}

// RemoveAllowlist implements Store.
func (s *RedisStore) RemoveAllowlist(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.allowKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del reputation entry: %w", err)
	}
	return nil
}

// Entries implements Store.
func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		e, err := s.getEntry(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if e != nil {
			entries = append(entries, *e)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan reputation entries: %w", err)
	}
	return entries, nil
}

// Close implements Store. The client is shared, so Close does not
// close it.
func (s *RedisStore) Close() error {
	return nil
}
