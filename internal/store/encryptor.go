package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor encrypts per-player device passwords at rest, mirroring
// flowpbx-flowpbx/internal/database's field-encryption pattern for trunk
// passwords (AES-256-GCM there; ChaCha20-Poly1305 here, same AEAD shape)
// adapted to a secret that must be recoverable in plaintext: unlike a login
// password, a RAOP device_password is handed to cliraop verbatim on every
// connect, so it is encrypted rather than hashed.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("store: constructing aead: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt returns a base64-encoded nonce+ciphertext for plaintext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: generating nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("store: decoding ciphertext: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("store: ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypting: %w", err)
	}
	return string(plaintext), nil
}
