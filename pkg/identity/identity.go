package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ransomeye/core/pkg/crypto"
)

// ErrMalformedKey is returned when a key file exists but cannot be parsed
// as the expected type — identity loading is fail-closed on this error.
var ErrMalformedKey = errors.New("identity: malformed key material")

// LoadOrGenerateSigner loads an Ed25519 signer from a raw 32-byte seed
// file at rootKeyPath, generating and persisting a fresh one if the file
// does not yet exist. A file that exists but has the wrong length is a
// fail-closed error — it is never silently regenerated, which would
// silently change the component's identity.
func LoadOrGenerateSigner(rootKeyPath, keyID string) (*crypto.EventSigner, error) {
	data, err := os.ReadFile(rootKeyPath)
	if errors.Is(err, os.ErrNotExist) {
		signer, genErr := crypto.NewEventSigner(keyID)
		if genErr != nil {
			return nil, fmt.Errorf("identity: generate signer: %w", genErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(rootKeyPath), 0o700); mkErr != nil {
			return nil, fmt.Errorf("identity: create key directory: %w", mkErr)
		}
		seed := signer.PrivateSeed()
		if wErr := os.WriteFile(rootKeyPath, seed, 0o600); wErr != nil {
			return nil, fmt.Errorf("identity: persist new root key: %w", wErr)
		}
		return signer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read root key path: %w", err)
	}

	signer, err := crypto.NewEventSignerFromSeed(data, keyID)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: %w", ErrMalformedKey, err)
	}
	return signer, nil
}

// NewComponentIdentity builds the identity anchor for a running process,
// generating a fresh instance id if one is not supplied (matching the
// orchestrator's INSTANCE_ID env var, which is optional).
func NewComponentIdentity(kind ComponentKind, name, instanceID, buildHash, version string) Identity {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return Identity{
		ComponentID:   fmt.Sprintf("%s:%s:%s", kind, name, instanceID),
		ComponentType: kind,
		ComponentName: name,
		InstanceID:    instanceID,
		BuildHash:     buildHash,
		Version:       version,
	}
}

// RandomNonceHex returns 32 bytes of CSPRNG randomness, hex-encoded to 64
// characters — the nonce format the ingest endpoint stamps onto every
// typed telemetry row.
func RandomNonceHex() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: read random nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
