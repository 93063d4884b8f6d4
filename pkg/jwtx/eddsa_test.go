package jwtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralSignerEdDSA("test-key-1")
	require.NoError(t, err)

	keys := NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	claims := NewSessionClaims(
		"account-123", "hr", "alice@example.com",
		[]string{AMRPassword, AMRMFA},
		time.Minute,
		"stafflane-auth",
		time.Now(),
	)

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verifier := NewVerifierEdDSA(keys, "stafflane-auth")
	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "account-123", got.Subject)
	require.Equal(t, "hr", got.Role)
	require.Equal(t, "alice@example.com", got.Email)
	require.True(t, got.HasAMR(AMRMFA))
}

func TestVerifyRejectsUnknownKID(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralSignerEdDSA("key-a")
	require.NoError(t, err)

	other, err := NewEphemeralSignerEdDSA("key-b")
	require.NoError(t, err)

	keys := NewKeySet()
	require.NoError(t, keys.AddSigner(other))

	claims := NewSessionClaims("sub", "employee", "", []string{AMRPassword}, time.Minute, "iss", time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = NewVerifierEdDSA(keys, "iss").Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralSignerEdDSA("key-exp")
	require.NoError(t, err)

	keys := NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	claims := NewSessionClaims("sub", "employee", "", nil, time.Minute, "iss", time.Now().Add(-time.Hour))
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = NewVerifierEdDSA(keys, "iss").Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralSignerEdDSA("key-iss")
	require.NoError(t, err)

	keys := NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	claims := NewSessionClaims("sub", "employee", "", nil, time.Minute, "other-issuer", time.Now())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = NewVerifierEdDSA(keys, "stafflane-auth").Verify(token)
	require.ErrorIs(t, err, ErrIssuer)
}
