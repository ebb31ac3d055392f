package envelope

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidateShape checks the structural requirements the ingest endpoint
// applies before attempting signature verification: event_id must be a
// valid identifier, timestamp must parse as RFC-3339, component_id and
// data must be present.
func ValidateShape(env Envelope) error {
	if _, err := uuid.Parse(env.EventID); err != nil {
		return fmt.Errorf("envelope: event_id is not a valid identifier: %w", err)
	}
	if env.ComponentID == "" {
		return fmt.Errorf("envelope: component_id is required")
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		if _, err2 := time.Parse(time.RFC3339Nano, env.Timestamp); err2 != nil {
			return fmt.Errorf("envelope: timestamp is not RFC-3339: %w", err)
		}
	}
	if env.Data == nil {
		return fmt.Errorf("envelope: data is required")
	}
	return nil
}

// ValidateSignedEvent checks the outer signed-event fields the ingest
// endpoint rejects with 400 before attempting cryptographic
// verification: signature, payload_hash, and signer_id must be
// non-empty, and the envelope itself must satisfy ValidateShape.
func ValidateSignedEvent(evt SignedEvent) error {
	if evt.Signature == "" {
		return fmt.Errorf("envelope: signature is required")
	}
	if evt.PayloadHash == "" {
		return fmt.Errorf("envelope: payload_hash is required")
	}
	if evt.SignerID == "" {
		return fmt.Errorf("envelope: signer_id is required")
	}
	return ValidateShape(evt.Envelope)
}
