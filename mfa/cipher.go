package mfa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const secretKeySize = 32

// secretCipher encrypts TOTP secrets at rest with AES-256-GCM. The nonce
// is prepended to the ciphertext.
type secretCipher struct {
	aead cipher.AEAD
}

func newSecretCipher(key []byte) (*secretCipher, error) {
	if len(key) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	if len(key) != secretKeySize {
		return nil, fmt.Errorf("mfa: encryption key must be %d bytes, got %d", secretKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &secretCipher{aead: aead}, nil
}

func (c *secretCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *secretCipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, errors.New("sealed secret too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}
