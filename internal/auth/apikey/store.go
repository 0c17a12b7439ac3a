package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avsecmw/internal/authz/rbac"
)

// Store errors.
var (
	// ErrKeyNotFound indicates the key ID is unknown.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyExists indicates a key with the same ID already exists.
	ErrKeyExists = errors.New("api key already exists")
)

// Store persists API keys by key ID. All reads return snapshots;
// mutations go through store methods so they happen under the store's
// lock.
type Store interface {
	// Get retrieves a snapshot of a key by its ID. Unlike List, the
	// snapshot carries the secret hash for credential verification.
	Get(ctx context.Context, id string) (*Key, error)

	// Create stores a new key.
	Create(ctx context.Context, key *Key) error

	// Revoke marks a key revoked. Revoking an already revoked key is a
	// no-op success.
	Revoke(ctx context.Context, id string) error

	// RecordUse increments the key's usage counter and returns the new
	// count.
	RecordUse(ctx context.Context, id string) (int64, error)

	// List returns snapshots of all keys.
	List(ctx context.Context) ([]*Key, error)
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	keys map[string]*Key
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory API key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*Key),
	}
}

// Get retrieves a snapshot of a key by its ID. The live key never
// leaves the store, so later Revoke writes cannot race with the
// caller's reads.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := key.Snapshot()
	copied.SecretHash = key.SecretHash
	return copied, nil
}

// Create stores a new key.
func (s *MemoryStore) Create(ctx context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.ID]; exists {
		return ErrKeyExists
	}
	s.keys[key.ID] = key
	return nil
}

// Revoke marks a key revoked.
func (s *MemoryStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	key.Revoked = true
	return nil
}

// RecordUse increments the key's usage counter.
func (s *MemoryStore) RecordUse(ctx context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return 0, ErrKeyNotFound
	}
	return key.recordUse(), nil
}

// List returns snapshots of all keys.
func (s *MemoryStore) List(ctx context.Context) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Key, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, key.Snapshot())
	}
	return out, nil
}

// Issued is the result of issuing a new key: the stored key plus the
// one-time plaintext secret. The secret is not recoverable later.
type Issued struct {
	Key    *Key
	Secret string
}

// Issue generates a new key with a random secret, hashes the secret
// with the hasher and stores the key.
func Issue(
	ctx context.Context,
	store Store,
	hasher Hasher,
	subject, name string,
	roles []rbac.Role,
	scopes []rbac.Permission,
	ttl time.Duration,
) (*Issued, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(raw)

	hash, err := hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	key := &Key{
		ID:         uuid.NewString(),
		Name:       name,
		Subject:    subject,
		SecretHash: hash,
		Roles:      append([]rbac.Role(nil), roles...),
		Scopes:     append([]rbac.Permission(nil), scopes...),
		CreatedAt:  time.Now(),
	}
	if ttl > 0 {
		key.ExpiresAt = key.CreatedAt.Add(ttl)
	}

	if err := store.Create(ctx, key); err != nil {
		return nil, err
	}

	return &Issued{Key: key, Secret: secret}, nil
}
