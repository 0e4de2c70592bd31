package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *CryptoService {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate random key: %v", err)
	}
	return NewCryptoService(key)
}

// TestNewCryptoServiceDerivesKey checks the AEAD key is SHA-256 of the secret
func TestNewCryptoServiceDerivesKey(t *testing.T) {
	secret := []byte("a configured secret of arbitrary length")
	cs := NewCryptoService(secret)
	want := sha256.Sum256(secret)
	if !bytes.Equal(cs.serverKey, want[:]) {
		t.Error("server key should be the SHA-256 of the configured secret")
	}

	short := NewCryptoService([]byte("short"))
	if len(short.serverKey) != 32 {
		t.Errorf("expected 32-byte key for short secret, got %d", len(short.serverKey))
	}
}

func TestEncryptDecrypt(t *testing.T) {
	cs := newTestService(t)
	plaintext := []byte(`{"user_id":"abc","ip":"1.2.3.4"}`)

	ciphertext, err := cs.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("Ciphertext should not contain plaintext")
	}

	decrypted, err := cs.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypted text does not match original.\nExpected: %s\nGot: %s", plaintext, decrypted)
	}
}

func TestEncryptRandomness(t *testing.T) {
	cs := newTestService(t)
	a, err := cs.Encrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := cs.Encrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("Encrypting the same plaintext twice should use different nonces")
	}
}

func TestDecryptFailures(t *testing.T) {
	cs := newTestService(t)

	t.Run("too short", func(t *testing.T) {
		_, err := cs.Decrypt([]byte("tiny"))
		if !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("expected ErrCiphertextTooShort, got %v", err)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		ct, err := cs.Encrypt([]byte("payload"))
		if err != nil {
			t.Fatal(err)
		}
		ct[len(ct)-1] ^= 0xff
		if _, err := cs.Decrypt(ct); err == nil {
			t.Error("expected authentication failure for tampered ciphertext")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		ct, err := cs.Encrypt([]byte("payload"))
		if err != nil {
			t.Fatal(err)
		}
		other := newTestService(t)
		if _, err := other.Decrypt(ct); err == nil {
			t.Error("expected failure decrypting with a different key")
		}
	})
}

func TestEncryptStringRoundTrip(t *testing.T) {
	cs := newTestService(t)
	ct, err := cs.EncryptString("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatal(err)
	}
	got, err := cs.DecryptString(ct)
	if err != nil {
		t.Fatal(err)
	}
	if got != "JBSWY3DPEHPK3PXP" {
		t.Errorf("expected secret back, got %q", got)
	}
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("refresh-token")
	h2 := HashToken("refresh-token")
	if h1 != h2 {
		t.Error("HashToken should be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
	if HashToken("other") == h1 {
		t.Error("different tokens should hash differently")
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomToken(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("random tokens should differ")
	}
}
