// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/argon2"

	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

var ErrBadPassword = errors.New("wire: password does not match")

const scramMechanism = "SCRAM-SHA-256"

// UserStore resolves a username to its stored credential. It is the seam
// the (out-of-scope) admin persistence is wired in through.
type UserStore interface {
	UserByUsername(ctx context.Context, username string) (model.User, error)
}

// negotiateAuth runs the password exchange for conn and returns the
// authenticated user, or an error that must terminate the connection with
// a FATAL ErrorResponse before any engine context is requested.
func negotiateAuth(ctx context.Context, backend *pgproto3.Backend, users UserStore, username string) (model.User, error) {
	user, err := users.UserByUsername(ctx, username)
	if err != nil {
		return model.User{}, fmt.Errorf("wire: looking up user %q: %w", username, err)
	}
	if !user.IsActive {
		return model.User{}, fmt.Errorf("wire: user %q is not active", username)
	}

	if user.SCRAMCredential != nil {
		if err := verifySCRAM(backend, user); err != nil {
			return model.User{}, err
		}
		return user, nil
	}
	return verifyCleartext(backend, user)
}

// verifyCleartext requests a cleartext password and checks it against the
// stored Argon2id hash.
func verifyCleartext(backend *pgproto3.Backend, user model.User) (model.User, error) {
	if err := backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return model.User{}, fmt.Errorf("wire: sending cleartext auth request: %w", err)
	}
	if err := backend.Flush(); err != nil {
		return model.User{}, fmt.Errorf("wire: flushing cleartext auth request: %w", err)
	}

	msg, err := backend.Receive()
	if err != nil {
		return model.User{}, fmt.Errorf("wire: receiving password message: %w", err)
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return model.User{}, fmt.Errorf("wire: expected PasswordMessage, got %T", msg)
	}

	if !verifyArgon2id(user.PasswordHash, pw.Password) {
		return model.User{}, ErrBadPassword
	}
	return user, nil
}

// verifyArgon2id checks password against an Argon2id hash encoded the way
// the (out-of-scope) admin layer is expected to produce it:
// "$argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt-b64>$<hash-b64>".
func verifyArgon2id(encodedHash, password string) bool {
	params, salt, want, err := parseArgon2idHash(encodedHash)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(want)))
	return constantTimeEqual(got, want)
}
