// Package adminapi provides the minimal JWT-authenticated operator
// control surface referenced by spec.md §4.8 ("explicit: operator or API
// request") and the retention live-run trigger: explicit deception asset
// teardown and a switch from retention dry-run to live execution.
// Telemetry ingestion (C3) never uses this package — it is unauthenticated
// by design, trust flowing instead from the envelope signature.
package adminapi

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages the active signing key for control-surface bearer
// tokens and verification of previously issued tokens across rotation.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// ControlKeySet holds control-surface signing keys in memory, rotating on
// a fixed retention of the 10 most recent keys so tokens issued shortly
// before a rotation remain verifiable.
type ControlKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
}

// NewControlKeySet creates a key set with one freshly generated key.
func NewControlKeySet() (*ControlKeySet, error) {
	ks := &ControlKeySet{
		keys: make(map[string]ed25519.PrivateKey),
	}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a new active signing key, retaining up to 9 prior
// keys (10 in all) so recently issued tokens keep verifying.
func (ks *ControlKeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	// Generate new Ed25519 key
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = privateKey
	ks.currentKID = kid

	// Ensure map doesn't grow indefinitely: evict the oldest key, whose
	// kid carries the smallest creation time.
	if len(ks.keys) > 10 {
		oldest := ""
		var oldestNanos int64
		for k := range ks.keys {
			var n int64
			if _, err := fmt.Sscanf(k, "key-%d", &n); err != nil {
				continue
			}
			if oldest == "" || n < oldestNanos {
				oldest, oldestNanos = k, n
			}
		}
		delete(ks.keys, oldest)
	}
	return nil
}

func (ks *ControlKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *ControlKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}

		return key.Public(), nil
	}
}
