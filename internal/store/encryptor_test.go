package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(make([]byte, 32))
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestEncryptorUniqueCiphertexts(t *testing.T) {
	enc, err := NewEncryptor(make([]byte, 32))
	require.NoError(t, err)

	c1, err := enc.Encrypt("same-password")
	require.NoError(t, err)
	c2, err := enc.Encrypt("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "two encryptions of the same plaintext should differ (unique nonces)")
}

func TestEncryptorDecryptWrongKeyFails(t *testing.T) {
	enc1, _ := NewEncryptor(make([]byte, 32))
	key2 := make([]byte, 32)
	key2[0] = 1
	enc2, _ := NewEncryptor(key2)

	ciphertext, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext)
	assert.Error(t, err, "expected Decrypt() with wrong key to fail")
}

func TestEncryptorDecryptMalformedInput(t *testing.T) {
	enc, _ := NewEncryptor(make([]byte, 32))
	_, err := enc.Decrypt("not-base64!!!")
	assert.Error(t, err, "expected error for malformed ciphertext")
}
