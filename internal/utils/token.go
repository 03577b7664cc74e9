package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// TokenIssuer generates opaque session tokens.
type TokenIssuer struct{}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{}
}

// Issue returns a random (version 4) UUID string. It carries nothing about the user.
func (TokenIssuer) Issue() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return id.String(), nil
}
