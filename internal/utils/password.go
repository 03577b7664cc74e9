package utils

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the work factor the accounts were historically hashed with.
const DefaultBcryptCost = 10

// PasswordHasher hashes and verifies passwords with bcrypt
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a PasswordHasher. Out of range costs fall back to DefaultBcryptCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// maxPasswordBytes is the most bcrypt will look at. Longer passwords are cut here
// so digests stay compatible with other bcrypt implementations that truncate.
const maxPasswordBytes = 72

func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

type hashResult struct {
	hash []byte
	err  error
}

// Hash returns a salted bcrypt digest of password.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	done := make(chan hashResult, 1)
	go func() {
		hash, err := bcrypt.GenerateFromPassword(passwordBytes(password), h.cost)
		done <- hashResult{hash: hash, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return string(res.hash), nil
	}
}

// Verify reports whether password matches hash. A mismatch is not an error;
// only a malformed hash is.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword([]byte(hash), passwordBytes(password))
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-done:
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
}
