// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
	"github.com/pgfedproxy/pgfedproxy/internal/logging"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

func encodeArgon2idHash(password string, salt []byte, memory, time_, threads uint32) string {
	hash := argon2.IDKey([]byte(password), salt, time_, memory, uint8(threads), 32)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory, time_, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func TestVerifyArgon2idAcceptsMatchingPassword(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef")
	encoded := encodeArgon2idHash("correct horse", salt, 65536, 3, 2)
	assert.True(t, verifyArgon2id(encoded, "correct horse"))
}

func TestVerifyArgon2idRejectsWrongPassword(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef")
	encoded := encodeArgon2idHash("correct horse", salt, 65536, 3, 2)
	assert.False(t, verifyArgon2id(encoded, "battery staple"))
}

func TestVerifyArgon2idRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	assert.False(t, verifyArgon2id("not-a-valid-hash", "anything"))
}

func TestToErrorResponseMapsReadOnlyViolationToSQLState(t *testing.T) {
	t.Parallel()

	err := &hooks.ReadOnlyViolation{Statement: "DELETE FROM orders"}
	resp := toErrorResponse(err)
	assert.Equal(t, sqlStateReadOnlyViolation, resp.Code)
	assert.Equal(t, "ERROR", resp.Severity)
}

func TestToErrorResponseMapsAccessGuardErrorsToFatal(t *testing.T) {
	t.Parallel()

	resp := toErrorResponse(accessguard.ErrDataSourceNotFound)
	assert.Equal(t, sqlStatePermissionDenied, resp.Code)
	assert.Equal(t, "FATAL", resp.Severity)
}

func TestToErrorResponseDefaultsToInternalError(t *testing.T) {
	t.Parallel()

	resp := toErrorResponse(errors.New("boom"))
	assert.Equal(t, sqlStateInternalError, resp.Code)
}

func TestToFatalResponseForcesFatalSeverity(t *testing.T) {
	t.Parallel()

	resp := toFatalResponse(hooks.ErrParse)
	assert.Equal(t, "FATAL", resp.Severity)
	assert.Equal(t, sqlStateSyntaxError, resp.Code)
}

// fakeUserStore lets negotiate run end to end over a real net.Pipe without
// any database behind it.
type fakeUserStore struct {
	users map[string]model.User
}

func (f fakeUserStore) UserByUsername(_ context.Context, username string) (model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return model.User{}, fmt.Errorf("no such user %q", username)
	}
	return u, nil
}

func TestNegotiateAuthenticatesAndAuthorizesOverCleartext(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef")
	hash := encodeArgon2idHash("s3cret", salt, 65536, 3, 2)

	users := fakeUserStore{users: map[string]model.User{
		"alice": {Username: "alice", IsActive: true, PasswordHash: hash},
	}}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	backend := pgproto3.NewBackend(serverConn, serverConn)
	frontend := pgproto3.NewFrontend(clientConn, clientConn)

	guard := accessguard.New(denyAllStore{})

	errCh := make(chan error, 1)
	go func() {
		_, err := negotiate(context.Background(), backend, users, guard, nil, logging.NewNoop())
		errCh <- err
	}()

	require.NoError(t, frontend.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "alice", "database": "warehouse"},
	}))
	require.NoError(t, frontend.Flush())

	msg, err := frontend.Receive()
	require.NoError(t, err)
	_, ok := msg.(*pgproto3.AuthenticationCleartextPassword)
	require.True(t, ok, "expected AuthenticationCleartextPassword, got %T", msg)

	require.NoError(t, frontend.Send(&pgproto3.PasswordMessage{Password: "s3cret"}))
	require.NoError(t, frontend.Flush())

	select {
	case err := <-errCh:
		// guard always denies in this test, so negotiate surfaces the
		// access-guard error after a successful authentication step.
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("negotiate did not return in time")
	}
}

// denyAllStore implements accessguard.Store and rejects every datasource,
// isolating this test to the authentication half of negotiate.
type denyAllStore struct{}

func (denyAllStore) DataSourceByName(_ context.Context, _ string) (model.DataSource, error) {
	return model.DataSource{}, accessguard.ErrDataSourceNotFound
}

func (denyAllStore) AssignmentExists(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return false, nil
}

func TestSubstituteParamsQuotesTextParameters(t *testing.T) {
	t.Parallel()

	query, err := substituteParams(
		"SELECT id FROM orders WHERE status = $1 AND total > $2",
		[]uint32{pgtype.TextOID, pgtype.Int4OID},
		nil,
		[][]byte{[]byte("shipped"), []byte("100")},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM orders WHERE status = 'shipped' AND total > '100'", query)
}

func TestSubstituteParamsEscapesEmbeddedQuotes(t *testing.T) {
	t.Parallel()

	query, err := substituteParams("SELECT 1 WHERE name = $1", []uint32{pgtype.TextOID}, nil, [][]byte{[]byte("O'Brien")})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 WHERE name = 'O''Brien'", query)
}

func TestSubstituteParamsRendersNullForMissingValue(t *testing.T) {
	t.Parallel()

	query, err := substituteParams("SELECT 1 WHERE x = $1", []uint32{pgtype.Int4OID}, nil, [][]byte{nil})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 WHERE x = NULL", query)
}

func TestSubstituteParamsDecodesBinaryInt4Unquoted(t *testing.T) {
	t.Parallel()

	query, err := substituteParams(
		"SELECT 1 WHERE x = $1",
		[]uint32{pgtype.Int4OID},
		[]int16{1},
		[][]byte{{0x00, 0x00, 0x00, 0x2a}},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 WHERE x = 42", query)
}

func TestSubstituteParamsLeavesDollarInsideStringLiteralAlone(t *testing.T) {
	t.Parallel()

	query, err := substituteParams("SELECT '$1 is not a param' WHERE id = $1", []uint32{pgtype.Int4OID}, nil, [][]byte{[]byte("7")})
	require.NoError(t, err)
	assert.Equal(t, "SELECT '$1 is not a param' WHERE id = '7'", query)
}

func TestSubstituteParamsNoParametersReturnsQueryUnchanged(t *testing.T) {
	t.Parallel()

	query, err := substituteParams("SELECT 1", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", query)
}
