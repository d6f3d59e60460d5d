// Package crypt protects mailbox secrets stored in account configuration.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNoKey is returned when a codec is used without a configured key.
var ErrNoKey = errors.New("crypt: encryption key not configured")

// Codec seals secrets with XChaCha20-Poly1305. Ciphertexts are base64 of
// nonce||sealed.
type Codec struct {
	key []byte
}

// NewCodec accepts a 32 byte key, raw or base64 encoded. An empty key
// yields a codec that refuses every operation.
func NewCodec(key string) (*Codec, error) {
	if key == "" {
		return &Codec{}, nil
	}
	raw := []byte(key)
	if len(raw) != chacha20poly1305.KeySize {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(decoded) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("crypt: key must be %d bytes or base64 of %d bytes", chacha20poly1305.KeySize, chacha20poly1305.KeySize)
		}
		raw = decoded
	}
	return &Codec{key: raw}, nil
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || len(c.key) == 0 {
		return "", ErrNoKey
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("crypt: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypt: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if c == nil || len(c.key) == 0 {
		return "", ErrNoKey
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypt: decode: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("crypt: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", errors.New("crypt: ciphertext too short")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypt: open: %w", err)
	}
	return string(plain), nil
}

// GenerateKey returns a fresh base64 key suitable for NewCodec.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
