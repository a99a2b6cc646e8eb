// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// verifySCRAM runs the SCRAM-SHA-256 server side of RFC 5802 against an
// already-derived model.SCRAMCredential. The plaintext password is never
// seen by this core; only the client's proof of knowledge of it is
// checked, against StoredKey.
func verifySCRAM(backend *pgproto3.Backend, user model.User) error {
	if err := backend.Send(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{scramMechanism}}); err != nil {
		return fmt.Errorf("wire: sending SASL mechanism list: %w", err)
	}
	if err := backend.Flush(); err != nil {
		return fmt.Errorf("wire: flushing SASL mechanism list: %w", err)
	}

	initial, err := receiveSASLInitial(backend)
	if err != nil {
		return err
	}
	clientFirstBare, clientNonce, err := parseClientFirstMessage(initial)
	if err != nil {
		return err
	}

	cred := user.SCRAMCredential
	serverNonce, err := randomNonce()
	if err != nil {
		return err
	}
	combinedNonce := clientNonce + serverNonce

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", combinedNonce, base64.StdEncoding.EncodeToString(cred.Salt), cred.Iterations)
	if err := backend.Send(&pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst)}); err != nil {
		return fmt.Errorf("wire: sending SASL server-first message: %w", err)
	}
	if err := backend.Flush(); err != nil {
		return fmt.Errorf("wire: flushing SASL server-first message: %w", err)
	}

	finalMsg, err := receiveSASLResponse(backend)
	if err != nil {
		return err
	}
	channelBinding, clientFinalNonce, proof, err := parseClientFinalMessage(finalMsg)
	if err != nil {
		return err
	}
	if clientFinalNonce != combinedNonce {
		return fmt.Errorf("wire: scram nonce mismatch")
	}

	clientFinalWithoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, combinedNonce)
	authMessage := strings.Join([]string{clientFirstBare, serverFirst, clientFinalWithoutProof}, ",")

	clientSignature := hmacSHA256(cred.StoredKey[:], []byte(authMessage))
	clientKey := xorBytes(proof, clientSignature)
	computedStoredKey := sha256.Sum256(clientKey)
	if !constantTimeEqual(computedStoredKey[:], cred.StoredKey[:]) {
		return ErrBadPassword
	}

	serverSignature := hmacSHA256(cred.ServerKey[:], []byte(authMessage))
	serverFinal := fmt.Sprintf("v=%s", base64.StdEncoding.EncodeToString(serverSignature))
	if err := backend.Send(&pgproto3.AuthenticationSASLFinal{Data: []byte(serverFinal)}); err != nil {
		return fmt.Errorf("wire: sending SASL server-final message: %w", err)
	}
	return backend.Flush()
}

func receiveSASLInitial(backend *pgproto3.Backend) (string, error) {
	msg, err := backend.Receive()
	if err != nil {
		return "", fmt.Errorf("wire: receiving SASLInitialResponse: %w", err)
	}
	initial, ok := msg.(*pgproto3.SASLInitialResponse)
	if !ok {
		return "", fmt.Errorf("wire: expected SASLInitialResponse, got %T", msg)
	}
	if initial.AuthMechanism != scramMechanism {
		return "", fmt.Errorf("wire: unsupported SASL mechanism %q", initial.AuthMechanism)
	}
	return string(initial.Data), nil
}

func receiveSASLResponse(backend *pgproto3.Backend) (string, error) {
	msg, err := backend.Receive()
	if err != nil {
		return "", fmt.Errorf("wire: receiving SASLResponse: %w", err)
	}
	resp, ok := msg.(*pgproto3.SASLResponse)
	if !ok {
		return "", fmt.Errorf("wire: expected SASLResponse, got %T", msg)
	}
	return string(resp.Data), nil
}

// parseClientFirstMessage extracts the bare ("n=user,r=nonce", without
// the "n,," GS2 header) and the client nonce from a client-first-message.
// Only the "n,," (no channel binding) GS2 header is accepted.
func parseClientFirstMessage(msg string) (bare string, nonce string, err error) {
	if !strings.HasPrefix(msg, "n,,") {
		return "", "", fmt.Errorf("wire: unsupported SCRAM GS2 header in %q", msg)
	}
	bare = strings.TrimPrefix(msg, "n,,")

	for _, field := range strings.Split(bare, ",") {
		if strings.HasPrefix(field, "r=") {
			nonce = strings.TrimPrefix(field, "r=")
		}
	}
	if nonce == "" {
		return "", "", fmt.Errorf("wire: client-first-message missing nonce")
	}
	return bare, nonce, nil
}

// parseClientFinalMessage extracts the channel-binding field, the
// combined nonce, and the decoded client proof.
func parseClientFinalMessage(msg string) (channelBinding, nonce string, proof []byte, err error) {
	for _, field := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(field, "c="):
			channelBinding = strings.TrimPrefix(field, "c=")
		case strings.HasPrefix(field, "r="):
			nonce = strings.TrimPrefix(field, "r=")
		case strings.HasPrefix(field, "p="):
			proof, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(field, "p="))
			if err != nil {
				return "", "", nil, fmt.Errorf("wire: decoding client proof: %w", err)
			}
		}
	}
	if nonce == "" || proof == nil {
		return "", "", nil, fmt.Errorf("wire: malformed client-final-message")
	}
	return channelBinding, nonce, proof, nil
}

func randomNonce() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("wire: generating server nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
