package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// minBcryptCost is the floor for password hashing. Costs below it are
// silently raised; weakening the hash via config is not an option.
const minBcryptCost = 10

// HashPassword hashes a plaintext password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < minBcryptCost {
		cost = minBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash against a login attempt. Any
// mismatch collapses to ErrInvalidCredentials.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
