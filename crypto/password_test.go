package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"
)

// TestHashPassword tests password hashing format
func TestHashPassword(t *testing.T) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}

	hash := HashPassword("SecurePassword123!", salt)

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Errorf("unexpected hash prefix: %s", hash)
	}
	if parts := strings.Split(hash, "$"); len(parts) != 6 {
		t.Errorf("Hash should have 6 parts, got %d", len(parts))
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	if HashPassword("TestPassword123", salt) != HashPassword("TestPassword123", salt) {
		t.Error("Same password and salt should produce same hash")
	}
	if HashPassword("TestPassword123", salt) == HashPassword("TestPassword123", []byte("fedcba9876543210")) {
		t.Error("Different salts should produce different hashes")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashNewPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashNewPassword failed: %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		expected bool
	}{
		{"correct password", "correct horse battery", hash, true},
		{"wrong password", "correct horse battery!", hash, false},
		{"empty password", "", hash, false},
		{"malformed hash", "correct horse battery", "not-a-hash", false},
		{"wrong algorithm", "correct horse battery", strings.Replace(hash, "argon2id", "argon2i", 1), false},
		{"bad salt encoding", "correct horse battery", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA", false},
		{"zero parameters", "correct horse battery", "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.password, tt.hash); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// TestVerifyPasswordUsesStoredParameters checks hashes made with other costs still verify
func TestVerifyPasswordUsesStoredParameters(t *testing.T) {
	salt := []byte("0123456789abcdef")
	raw := argon2.IDKey([]byte("legacy-password"), salt, 1, 8*1024, 1, 16)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 8*1024, 1, 1, b64(salt), b64(raw))

	if !VerifyPassword("legacy-password", encoded) {
		t.Error("expected hash with non-default parameters to verify")
	}
	if !NeedsRehash(encoded) {
		t.Error("expected non-default parameters to need rehash")
	}

	current, err := HashNewPassword("legacy-password")
	if err != nil {
		t.Fatal(err)
	}
	if NeedsRehash(current) {
		t.Error("fresh hash should not need rehash")
	}
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 16 {
		t.Errorf("expected 16-byte salt, got %d", len(a))
	}
	if string(a) == string(b) {
		t.Error("salts should be random")
	}
}

func b64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}
