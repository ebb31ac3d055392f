package identity

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Algorithm identifies the kind of verifying key held for a signer_id.
type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	AlgorithmRSAPSS  Algorithm = "rsa-pss-sha256"
)

// VerifyingKey is one entry in the trust store: a signer_id's public key
// material and the algorithm it is verified under.
type VerifyingKey struct {
	SignerID  string
	Algorithm Algorithm
	Ed25519   ed25519.PublicKey
	RSA       *rsa.PublicKey
}

// TrustStore maps signer_id to verifying key material. It is read
// concurrently by every ingest request and written only on (re)load, so a
// reader-preferred mutex guards the map, matching the concurrency model
// the rest of the fabric uses for in-memory registries.
type TrustStore struct {
	mu   sync.RWMutex
	keys map[string]VerifyingKey
}

// NewTrustStore returns an empty trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{keys: make(map[string]VerifyingKey)}
}

// Lookup returns the verifying key registered for signerID, or false if
// none is known — callers must treat "unknown signer" as a verification
// failure, never as an implicit allow.
func (t *TrustStore) Lookup(signerID string) (VerifyingKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, ok := t.keys[signerID]
	return k, ok
}

// Register adds or replaces a verifying key for a signer id.
func (t *TrustStore) Register(key VerifyingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[key.SignerID] = key
}

// Count returns the number of distinct signer ids currently trusted.
func (t *TrustStore) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Keys returns every verifying key currently held, in no particular
// order. Callers that need a specific signer should use Lookup;
// Keys exists for startup-time scans such as picking an RSA-PSS key
// to validate policy documents against.
func (t *TrustStore) Keys() []VerifyingKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]VerifyingKey, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, k)
	}
	return out
}

// LoadTrustDirectory populates a trust store from a directory of key files.
// File naming convention: "<signer_id>.ed25519" holds a raw 32-byte
// Ed25519 public key; "<signer_id>.rsa.der" or "<signer_id>.rsa.pem" holds an X.509
// SubjectPublicKeyInfo (PEM or raw DER) RSA public key. A malformed file
// aborts the whole load — the trust store fails closed rather than
// starting up with a partial, silently-incomplete set of trusted
// signers.
func LoadTrustDirectory(dir string) (*TrustStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("identity: read trust store directory %s: %w", dir, err)
	}

	store := NewTrustStore()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		switch {
		case strings.HasSuffix(name, ".ed25519"):
			signerID := strings.TrimSuffix(name, ".ed25519")
			key, err := loadEd25519PublicKey(path)
			if err != nil {
				return nil, fmt.Errorf("identity: %w: %s: %w", ErrMalformedKey, name, err)
			}
			store.Register(VerifyingKey{SignerID: signerID, Algorithm: AlgorithmEd25519, Ed25519: key})
		case strings.HasSuffix(name, ".rsa.der"), strings.HasSuffix(name, ".rsa.pem"):
			signerID := strings.TrimSuffix(strings.TrimSuffix(name, ".rsa.der"), ".rsa.pem")
			key, err := loadRSAPublicKey(path)
			if err != nil {
				return nil, fmt.Errorf("identity: %w: %s: %w", ErrMalformedKey, name, err)
			}
			store.Register(VerifyingKey{SignerID: signerID, Algorithm: AlgorithmRSAPSS, RSA: key})
		default:
			// Unknown extensions are ignored rather than rejected, so the
			// trust store directory can hold README/index files alongside
			// key material.
			continue
		}
	}
	return store, nil
}

func loadEd25519PublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("expected %d raw bytes, got %d", ed25519.PublicKeySize, len(data))
	}
	return ed25519.PublicKey(data), nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SubjectPublicKeyInfo: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return rsaPub, nil
}
