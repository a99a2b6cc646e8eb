// SPDX-License-Identifier: Apache-2.0

package crypto_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/crypto"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	env, err := crypto.NewEnvelope(key)
	require.NoError(t, err)

	plaintext := []byte(`{"host":"db.internal","port":5432,"password":"hunter2"}`)
	sealed, err := env.Seal(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	opened, err := env.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealProducesDistinctCiphertextEachTime(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	env, err := crypto.NewEnvelope(key)
	require.NoError(t, err)

	a, err := env.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := env.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "nonces must differ between seals")
}

func TestOpenFailsUnderWrongKey(t *testing.T) {
	t.Parallel()

	key1, err := crypto.GenerateKey()
	require.NoError(t, err)
	key2, err := crypto.GenerateKey()
	require.NoError(t, err)

	env1, err := crypto.NewEnvelope(key1)
	require.NoError(t, err)
	env2, err := crypto.NewEnvelope(key2)
	require.NoError(t, err)

	sealed, err := env1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = env2.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsTruncatedCiphertext(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	env, err := crypto.NewEnvelope(key)
	require.NoError(t, err)

	_, err = env.Open([]byte("short"))
	assert.ErrorIs(t, err, crypto.ErrCiphertextTooShort)
}

func TestParseKeyHexRejectsWrongSize(t *testing.T) {
	t.Parallel()

	_, err := crypto.ParseKeyHex(hex.EncodeToString([]byte("too short")))
	assert.ErrorIs(t, err, crypto.ErrInvalidKeySize)
}

func TestParseKeyHexAcceptsThirtyTwoBytes(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	parsed, err := crypto.ParseKeyHex(hex.EncodeToString(key[:]))
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}
