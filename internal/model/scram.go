// SPDX-License-Identifier: Apache-2.0

package model

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ScramIterations is the PBKDF2 iteration count new credentials are
// derived with. It only affects newly derived credentials; existing ones
// keep whatever iteration count they were created with, per RFC 5802.
const ScramIterations = 4096

// SCRAMCredential is the server-side verifier for SCRAM-SHA-256 (RFC
// 5802): salt, iteration count, StoredKey and ServerKey. It contains
// nothing from which the plaintext password can be recovered, unlike the
// Argon2id hash it lives alongside. There is no SCRAM library anywhere in
// the reference pack, so this is built directly on stdlib crypto plus
// golang.org/x/crypto/pbkdf2, the same package pgx's own SCRAM client
// implementation is layered on.
type SCRAMCredential struct {
	Salt       []byte
	Iterations int
	StoredKey  [32]byte
	ServerKey  [32]byte
}

// DeriveSCRAMCredential computes a fresh SCRAM-SHA-256 credential from a
// plaintext password. It must only be called where the plaintext is
// already in hand (the external admin boundary that also computes the
// Argon2id hash); the wire protocol's SCRAM handshake only ever consumes
// an already-derived credential, never a plaintext password.
func DeriveSCRAMCredential(password string) (*SCRAMCredential, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("model: generating scram salt: %w", err)
	}
	return deriveSCRAMCredential(password, salt, ScramIterations), nil
}

func deriveSCRAMCredential(password string, salt []byte, iterations int) *SCRAMCredential {
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)

	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))

	var svk [32]byte
	copy(svk[:], serverKey)

	return &SCRAMCredential{
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  storedKey,
		ServerKey:  svk,
	}
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
