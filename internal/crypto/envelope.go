// SPDX-License-Identifier: Apache-2.0

// Package crypto implements the AES-256-GCM envelope used to encrypt each
// datasource's secret connection parameters at rest. There is no
// third-party AEAD/secrets library anywhere in the reference pack; the
// standard library's crypto/cipher.NewGCM is the idiomatic choice absent a
// KMS client, so this is the one component of the proxy built directly on
// stdlib crypto rather than an imported package.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const KeySize = 32 // AES-256

var (
	ErrInvalidKeySize     = errors.New("crypto: encryption key must be 32 bytes")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce size")
)

// Key is a 32-byte AES-256 key, held in memory only for the lifetime of the
// process. It is supplied at startup via the "encryption key" configuration
// item (spec.md §6); if absent, GenerateKey produces a random one and the
// caller is expected to log a warning, since secrets encrypted under it will
// be unrecoverable after a restart.
type Key [KeySize]byte

// ParseKeyHex decodes a 32-byte hex-encoded key, as read from configuration.
func ParseKeyHex(hexKey string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return k, fmt.Errorf("crypto: decoding hex key: %w", err)
	}
	if len(raw) != KeySize {
		return k, ErrInvalidKeySize
	}
	copy(k[:], raw)
	return k, nil
}

// GenerateKey returns a fresh random 32-byte key. Callers must log a
// warning when this path is taken, per spec.md §6.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("crypto: generating random key: %w", err)
	}
	return k, nil
}

// Envelope seals and opens datasource secrets under a single server-wide
// AES-256-GCM key.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope constructs an Envelope from a 32-byte key.
func NewEnvelope(key Key) (*Envelope, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing GCM: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (e *Envelope) Open(sealed []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting: %w", err)
	}
	return plaintext, nil
}
