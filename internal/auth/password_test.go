package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("venue-password-1", 10)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, "venue-password-1"); err != nil {
		t.Errorf("CheckPassword with correct password failed: %v", err)
	}
	if err := CheckPassword(hash, "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("CheckPassword with wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if err := CheckPassword("not-a-bcrypt-hash", "venue-password-1"); err != ErrInvalidCredentials {
		t.Errorf("CheckPassword with bad hash error = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashPassword_CostFloor(t *testing.T) {
	hash, err := HashPassword("venue-password-1", 4)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost failed: %v", err)
	}
	if cost < minBcryptCost {
		t.Errorf("cost = %d, want at least %d", cost, minBcryptCost)
	}
}
