package auditchain

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ransomeye/core/pkg/crypto"
)

func TestDecodeHash_RoundTripsValidHex(t *testing.T) {
	sum := crypto.SHA256Bytes([]byte("payload"))
	decoded, err := decodeHash(hex.EncodeToString(sum[:]))
	assert.NoError(t, err)
	assert.Equal(t, sum, decoded)
}

func TestDecodeHash_RejectsMalformedInput(t *testing.T) {
	_, err := decodeHash("not-hex")
	assert.Error(t, err)

	_, err = decodeHash("ab")
	assert.Error(t, err)
}

func TestChainHashMath_GenesisThenTwoEntriesProducesStableChain(t *testing.T) {
	payload1 := crypto.SHA256Bytes([]byte(`{"action":"schema.apply"}`))
	payload2 := crypto.SHA256Bytes([]byte(`{"action":"policy.load"}`))

	hash1 := crypto.ChainHash(crypto.GenesisChainHash, payload1)
	hash2 := crypto.ChainHash(hash1, payload2)

	assert.NotEqual(t, hash1, hash2)
	assert.NotEqual(t, crypto.GenesisChainHash, hash1)

	// Recomputing from the same inputs must be deterministic.
	assert.Equal(t, hash1, crypto.ChainHash(crypto.GenesisChainHash, payload1))
	assert.Equal(t, hash2, crypto.ChainHash(hash1, payload2))
}

func TestChainHashMath_DifferentPayloadOrderDiverges(t *testing.T) {
	payloadA := crypto.SHA256Bytes([]byte("a"))
	payloadB := crypto.SHA256Bytes([]byte("b"))

	forward := crypto.ChainHash(crypto.ChainHash(crypto.GenesisChainHash, payloadA), payloadB)
	reversed := crypto.ChainHash(crypto.ChainHash(crypto.GenesisChainHash, payloadB), payloadA)

	assert.NotEqual(t, forward, reversed)
}
