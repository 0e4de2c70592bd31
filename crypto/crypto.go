// Package crypto provides encryption, hashing, and token helpers used by the
// authentication service. Session blobs and MFA secrets are sealed with
// XChaCha20-Poly1305 under a key derived from the server encryption key.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextTooShort is returned when the input cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// CryptoService seals and opens data with a server-held key.
type CryptoService struct {
	serverKey []byte
}

// NewCryptoService derives a 32-byte AEAD key from the configured secret.
// Any key length is accepted; SHA-256 normalises it.
func NewCryptoService(key []byte) *CryptoService {
	sum := sha256.Sum256(key)
	return &CryptoService{serverKey: sum[:]}
}

// Encrypt seals plaintext with a random nonce. The nonce is prepended.
func (c *CryptoService) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.serverKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (c *CryptoService) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.serverKey)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}

// EncryptString is Encrypt for string payloads.
func (c *CryptoService) EncryptString(plaintext string) ([]byte, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt returning a string.
func (c *CryptoService) DecryptString(ciphertext []byte) (string, error) {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HashToken returns the hex SHA-256 of an opaque token. Refresh tokens are
// only ever stored in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes hex encoded.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
