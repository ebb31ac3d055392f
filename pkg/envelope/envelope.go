// Package envelope builds and signs the event envelope every sensor
// emits before it reaches the ingest endpoint: a canonical record of
// event id, originating component, timestamp, and kind-specific data,
// hashed and signed so the ingest endpoint can verify provenance
// without trusting the transport.
package envelope

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
)

// Envelope is the unsigned record a sensor assembles for one observed
// event: { event_id, component_id, timestamp, data }.
type Envelope struct {
	EventID     string      `json:"event_id"`
	ComponentID string      `json:"component_id"`
	Timestamp   string      `json:"timestamp"`
	Data        interface{} `json:"data"`
}

// SignedEvent is the wire body posted to the ingest endpoint:
// { envelope, payload_hash, signature, signer_id }. payload_hash is
// advisory from the ingest endpoint's point of view — it MUST
// recompute its own hash over the canonical envelope bytes rather than
// trust this field, since a tampered envelope could carry a
// self-consistent but wrong hash.
type SignedEvent struct {
	Envelope    Envelope `json:"envelope"`
	PayloadHash string   `json:"payload_hash"`
	Signature   string   `json:"signature"`
	SignerID    string   `json:"signer_id"`
	Sequence    uint64   `json:"sequence"`
}

// Builder assembles, hashes, and signs envelopes for one signing
// identity. It is safe for concurrent use — the underlying signer's
// sequence counter is atomic.
type Builder struct {
	signer *crypto.EventSigner
}

// NewBuilder wraps an existing event signer.
func NewBuilder(signer *crypto.EventSigner) *Builder {
	return &Builder{signer: signer}
}

// NewEnvelope assembles an envelope for a sensor-extracted record.
// timestamp is converted to UTC and stored formatted as
// time.RFC3339Nano.
func NewEnvelope(componentID string, timestamp time.Time, data interface{}) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		ComponentID: componentID,
		Timestamp:   timestamp.UTC().Format(time.RFC3339Nano),
		Data:        data,
	}
}

// Build computes the canonical payload hash for env, signs it, and
// returns the ready-to-transmit signed event. Failures here (canonical
// serialization, signing) are fatal for this event — callers should
// count them and drop the event rather than transmit a malformed one.
func (b *Builder) Build(env Envelope) (SignedEvent, error) {
	_, hashHex, err := canonicalize.EnvelopeHash(env)
	if err != nil {
		return SignedEvent{}, fmt.Errorf("envelope: canonicalize: %w", err)
	}

	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return SignedEvent{}, fmt.Errorf("envelope: decode payload hash: %w", err)
	}

	sigB64, seq, err := b.signer.Sign(hashBytes)
	if err != nil {
		return SignedEvent{}, fmt.Errorf("envelope: sign: %w", err)
	}

	return SignedEvent{
		Envelope:    env,
		PayloadHash: hashHex,
		Signature:   sigB64,
		SignerID:    b.signer.KeyID(),
		Sequence:    seq,
	}, nil
}
