// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto wraps and unwraps SMTP credentials for at-rest storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a 32-byte AES-256 key from a master secret via
// HKDF-SHA256, scoped by info so different credential classes never
// share a derived key even under the same master secret.
func DeriveKey(masterSecret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Wrap encrypts plaintext with AES-256-GCM and returns a base64
// encoding of nonce+ciphertext+tag, suitable for a text column.
func Wrap(plaintext string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("wrap key must be 32 bytes, got %d", len(key))
	}
	if plaintext == "" {
		return "", fmt.Errorf("cannot wrap empty plaintext")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap reverses Wrap. Values that fail to base64-decode are treated
// as legacy plaintext written before wrapping was introduced and are
// returned unchanged; this tolerance is meant for one migration cycle
// only.
func Unwrap(wrapped string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("unwrap key must be 32 bytes, got %d", len(key))
	}

	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return wrapped, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return wrapped, nil
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return wrapped, nil
	}
	return string(plaintext), nil
}
