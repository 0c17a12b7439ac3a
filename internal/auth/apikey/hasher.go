package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes API key secrets and compares candidates against stored
// hashes.
type Hasher interface {
	// Hash returns the hash of the secret.
	Hash(secret string) (string, error)

	// Compare reports whether the candidate matches the stored hash.
	// The comparison is constant-time with respect to the hash value.
	Compare(hash, candidate string) bool
}

// SHA256Hasher hashes secrets with SHA-256. Suitable for high-entropy
// generated secrets; never for user-chosen passwords.
type SHA256Hasher struct{}

// Hash returns the hex SHA-256 of the secret.
func (SHA256Hasher) Hash(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}

// Compare hashes the candidate and compares in constant time.
func (h SHA256Hasher) Compare(hash, candidate string) bool {
	candidateHash, _ := h.Hash(candidate)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidateHash)) == 1
}

// BcryptHasher hashes secrets with bcrypt.
type BcryptHasher struct {
	// Cost is the bcrypt cost. Zero uses bcrypt.DefaultCost.
	Cost int
}

// Hash returns the bcrypt hash of the secret.
func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare checks the candidate against the bcrypt hash.
func (BcryptHasher) Compare(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
