// Package crypto provides the signing and verification primitives used
// across the ingestion, policy, and deception subsystems: an Ed25519
// event signer with a monotonic sequence prefix, and an RSA-PSS policy
// signer/verifier.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// EventSigner signs data with Ed25519, binding a monotonically increasing
// sequence number into every signature. The sequence is a replay-ordering
// hint: the same bytes signed twice will never produce the same signature,
// since the sequence prefix changes between calls.
type EventSigner struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
	seq     atomic.Uint64
}

// NewEventSigner generates a fresh Ed25519 keypair.
func NewEventSigner(keyID string) (*EventSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &EventSigner{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEventSignerFromSeed loads a signer from a raw 32-byte Ed25519 seed,
// failing closed if the seed is the wrong length.
func NewEventSignerFromSeed(seed []byte, keyID string) (*EventSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: identity key must be %d raw bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &EventSigner{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), keyID: keyID}, nil
}

// KeyID returns the identifier under which this signer is registered in a
// trust store.
func (s *EventSigner) KeyID() string { return s.keyID }

// PublicKeyHex returns the hex-encoded raw Ed25519 public key.
func (s *EventSigner) PublicKeyHex() string { return hex.EncodeToString(s.pubKey) }

// PublicKeyBytes returns the raw 32-byte Ed25519 public key.
func (s *EventSigner) PublicKeyBytes() []byte { return append([]byte(nil), s.pubKey...) }

// PrivateSeed returns the raw 32-byte Ed25519 seed backing this signer,
// suitable for persisting to a root key file and later reloading via
// NewEventSignerFromSeed.
func (s *EventSigner) PrivateSeed() []byte {
	return append([]byte(nil), s.privKey.Seed()...)
}

// Sequence returns the current sequence counter value (for observability
// and tests only; never used as part of a fresh signing decision).
func (s *EventSigner) Sequence() uint64 { return s.seq.Load() }

// Sign produces a base64-encoded Ed25519 signature over be64(seq) || data,
// then atomically advances the sequence counter. The sequence always
// advances, even under concurrent callers, because the fetch-and-add is a
// single atomic operation.
func (s *EventSigner) Sign(data []byte) (sigB64 string, seq uint64, err error) {
	seq = s.seq.Add(1) - 1
	msg := sequencedMessage(seq, data)
	sig := ed25519.Sign(s.privKey, msg)
	return base64.StdEncoding.EncodeToString(sig), seq, nil
}

func sequencedMessage(seq uint64, data []byte) []byte {
	msg := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(msg[:8], seq)
	copy(msg[8:], data)
	return msg
}

// VerifySequenced verifies a signature produced by Sign: it recomputes
// be64(seq) || data and checks it against the given Ed25519 public key.
// sigB64 is base64-encoded, matching the wire format emitted by Sign.
func VerifySequenced(pubKey ed25519.PublicKey, seq uint64, data []byte, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature base64: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(pubKey, sequencedMessage(seq, data), sig), nil
}

// VerifyRaw verifies a signature over raw bytes (no sequence prefix) —
// used for deception asset/signal hashes, which are not sequence-bound.
func VerifyRaw(pubKeyHex, sigB64 string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature base64: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// SignRaw signs raw bytes with no sequence prefix (used for deception
// asset/signal hashes), returning a base64-encoded signature.
func (s *EventSigner) SignRaw(data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privKey, data))
}

// RSAPSSSigner signs policy canonical bytes with RSA-PSS-SHA256 using a
// 4096-bit key, matching the original signing tool.
type RSAPSSSigner struct {
	key *rsa.PrivateKey
}

// NewRSAPSSSigner wraps an existing RSA private key. Fails closed if the
// key is not at least 4096 bits, matching the original tool's modulus
// check.
func NewRSAPSSSigner(key *rsa.PrivateKey) (*RSAPSSSigner, error) {
	if key.N.BitLen() < 4096 {
		return nil, fmt.Errorf("crypto: policy signing key must be >= 4096 bits, got %d", key.N.BitLen())
	}
	return &RSAPSSSigner{key: key}, nil
}

// SignCanonical signs the SHA-256 digest of canonical policy bytes with
// RSA-PSS, returning the base64-encoded signature and the hex content hash
// that callers store alongside it as signature_hash.
func (s *RSAPSSSigner) SignCanonical(canonical []byte) (sigB64 string, contentHashHex string, err error) {
	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPSS(rand.Reader, s.key, sha256type, digest[:], nil)
	if err != nil {
		return "", "", fmt.Errorf("crypto: rsa-pss sign failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), hex.EncodeToString(digest[:]), nil
}

// VerifyRSAPSS verifies an RSA-PSS-SHA256 signature against canonical
// bytes, accepting verifying keys between 2048 and 8192 bits.
func VerifyRSAPSS(pub *rsa.PublicKey, canonical []byte, sigB64 string) error {
	if pub.N.BitLen() < 2048 || pub.N.BitLen() > 8192 {
		return fmt.Errorf("crypto: verifying key size %d out of allowed range [2048,8192]", pub.N.BitLen())
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("crypto: invalid signature base64: %w", err)
	}
	digest := sha256.Sum256(canonical)
	if err := rsa.VerifyPSS(pub, sha256type, digest[:], sig, nil); err != nil {
		return fmt.Errorf("crypto: rsa-pss verification failed: %w", err)
	}
	return nil
}
