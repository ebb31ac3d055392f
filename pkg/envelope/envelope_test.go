package envelope_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) (*envelope.Builder, *crypto.EventSigner) {
	t.Helper()
	signer, err := crypto.NewEventSigner("sensor-linux-01")
	require.NoError(t, err)
	return envelope.NewBuilder(signer), signer
}

func TestBuild_ProducesVerifiableSignature(t *testing.T) {
	builder, signer := newTestBuilder(t)
	env := envelope.NewEnvelope("edge_sensor:host-1:abc", time.Now(), map[string]interface{}{
		"event_name": "process_start",
		"pid":        1234,
	})

	signed, err := builder.Build(env)
	require.NoError(t, err)

	require.NoError(t, envelope.ValidateSignedEvent(signed))

	hashBytes, err := hex.DecodeString(signed.PayloadHash)
	require.NoError(t, err)
	ok, err := crypto.VerifySequenced(signer.PublicKeyBytes(), signed.Sequence, hashBytes, signed.Signature)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuild_RecomputedHashChangesWithData(t *testing.T) {
	builder, _ := newTestBuilder(t)
	base := time.Now()

	envA := envelope.NewEnvelope("edge_sensor:host-1:abc", base, map[string]interface{}{"pid": 1})
	envB := envelope.NewEnvelope("edge_sensor:host-1:abc", base, map[string]interface{}{"pid": 2})
	envB.EventID = envA.EventID
	envB.Timestamp = envA.Timestamp

	signedA, err := builder.Build(envA)
	require.NoError(t, err)
	signedB, err := builder.Build(envB)
	require.NoError(t, err)

	assert.NotEqual(t, signedA.PayloadHash, signedB.PayloadHash)
}

func TestValidateShape_RejectsMissingComponentID(t *testing.T) {
	env := envelope.NewEnvelope("", time.Now(), map[string]interface{}{"a": 1})
	err := envelope.ValidateShape(env)
	assert.Error(t, err)
}

func TestValidateShape_RejectsNilData(t *testing.T) {
	env := envelope.NewEnvelope("edge_sensor:host-1:abc", time.Now(), nil)
	err := envelope.ValidateShape(env)
	assert.Error(t, err)
}

func TestValidateSignedEvent_RejectsEmptySignature(t *testing.T) {
	env := envelope.NewEnvelope("edge_sensor:host-1:abc", time.Now(), map[string]interface{}{"a": 1})
	signed := envelope.SignedEvent{Envelope: env, PayloadHash: "deadbeef", SignerID: "signer-1"}
	err := envelope.ValidateSignedEvent(signed)
	assert.Error(t, err)
}
