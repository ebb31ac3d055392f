package crypto_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/ransomeye/core/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestRSAKey(t *testing.T, bits int) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	return key
}

func TestEventSigner_SequenceAdvancesMonotonically(t *testing.T) {
	signer, err := crypto.NewEventSigner("signer-1")
	require.NoError(t, err)

	_, seq0, err := signer.Sign([]byte("payload-a"))
	require.NoError(t, err)
	_, seq1, err := signer.Sign([]byte("payload-b"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), seq0)
	assert.Equal(t, uint64(1), seq1)
}

func TestEventSigner_SignAndVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.NewEventSigner("signer-1")
	require.NoError(t, err)

	data := []byte("payload hash bytes")
	sig, seq, err := signer.Sign(data)
	require.NoError(t, err)

	ok, err := crypto.VerifySequenced(signer.PublicKeyBytes(), seq, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventSigner_VerifyFailsOnWrongSequence(t *testing.T) {
	signer, err := crypto.NewEventSigner("signer-1")
	require.NoError(t, err)

	data := []byte("payload hash bytes")
	sig, seq, err := signer.Sign(data)
	require.NoError(t, err)

	ok, err := crypto.VerifySequenced(signer.PublicKeyBytes(), seq+1, data, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewEventSignerFromSeed_RejectsWrongLength(t *testing.T) {
	_, err := crypto.NewEventSignerFromSeed([]byte("too-short"), "signer-1")
	assert.Error(t, err)
}

func TestNewEventSignerFromSeed_RoundTripsIdentity(t *testing.T) {
	original, err := crypto.NewEventSigner("signer-1")
	require.NoError(t, err)

	reloaded, err := crypto.NewEventSignerFromSeed(original.PrivateSeed(), "signer-1")
	require.NoError(t, err)

	assert.Equal(t, original.PublicKeyHex(), reloaded.PublicKeyHex())
}

func TestRSAPSS_SignAndVerifyRoundTrip(t *testing.T) {
	key := generateTestRSAKey(t, 4096)
	signer, err := crypto.NewRSAPSSSigner(key)
	require.NoError(t, err)

	canonical := []byte(`{"a":1,"b":2}`)
	sig, hashHex, err := signer.SignCanonical(canonical)
	require.NoError(t, err)
	assert.NotEmpty(t, hashHex)

	err = crypto.VerifyRSAPSS(&key.PublicKey, canonical, sig)
	assert.NoError(t, err)
}

func TestRSAPSS_RejectsUndersizedSigningKey(t *testing.T) {
	key := generateTestRSAKey(t, 2048)
	_, err := crypto.NewRSAPSSSigner(key)
	assert.Error(t, err)
}

