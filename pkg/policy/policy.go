// Package policy implements signing, canonicalization, and verification
// for the fabric's YAML policy documents. It deliberately stops at the
// signature boundary: evaluating a policy's rule content against live
// telemetry is a downstream concern this package never touches.
package policy

import (
	"crypto/rsa"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
)

// Document is one signed policy file. Content holds the policy body
// exactly as parsed from YAML, minus the four signing fields below,
// which are carried separately so canonicalization can strip them
// without needing to know the rest of the document's shape.
type Document struct {
	Name                string
	EngineVersion       string
	Content             map[string]interface{}
	Signature           string
	SignatureHash       string
	SignatureAlgorithm  string
	KeyID               string
}

const signatureAlgorithmRSAPSS = "rsa-pss-sha256"

var signingFieldNames = []string{"signature", "signature_hash", "signature_alg", "key_id"}

// ParseDocument parses raw YAML bytes into a Document, splitting out
// the signing fields from the policy body.
func ParseDocument(name string, raw []byte) (Document, error) {
	if err := canonicalize.ValidateStrictUTF8(raw); err != nil {
		return Document{}, fmt.Errorf("policy: %w", err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return Document{}, fmt.Errorf("policy: parse yaml: %w", err)
	}

	doc := Document{Name: name, Content: make(map[string]interface{}, len(generic))}
	for k, v := range generic {
		switch k {
		case "signature":
			doc.Signature, _ = v.(string)
		case "signature_hash":
			doc.SignatureHash, _ = v.(string)
		case "signature_alg":
			doc.SignatureAlgorithm, _ = v.(string)
		case "key_id":
			doc.KeyID, _ = v.(string)
		case "policy_engine_version":
			doc.EngineVersion, _ = v.(string)
			doc.Content[k] = v
		default:
			doc.Content[k] = v
		}
	}
	return doc, nil
}

// CanonicalBytes returns the RFC 8785 canonical JSON serialization of
// the document's body with the signing fields stripped — the bytes
// that are signed and must be re-derived on verification.
func (d Document) CanonicalBytes() ([]byte, error) {
	canonical, err := canonicalize.JCS(d.Content)
	if err != nil {
		return nil, fmt.Errorf("policy: canonicalize: %w", err)
	}
	return canonical, nil
}

// Sign produces the signature and signature_hash fields for the
// document's current content using a 4096-bit RSA-PSS key.
func Sign(doc Document, signer *crypto.RSAPSSSigner) (Document, error) {
	canonical, err := doc.CanonicalBytes()
	if err != nil {
		return Document{}, err
	}
	sigB64, hashHex, err := signer.SignCanonical(canonical)
	if err != nil {
		return Document{}, fmt.Errorf("policy: sign: %w", err)
	}
	doc.Signature = sigB64
	doc.SignatureHash = hashHex
	doc.SignatureAlgorithm = signatureAlgorithmRSAPSS
	return doc, nil
}

// Verify re-canonicalizes the document, checks the recomputed hash
// against the stored signature_hash, and verifies the RSA-PSS
// signature. Any mismatch is a fatal error for this policy document —
// callers must not apply a policy that fails verification.
func Verify(doc Document, verifyingKey *rsa.PublicKey) error {
	if doc.SignatureAlgorithm != signatureAlgorithmRSAPSS {
		return fmt.Errorf("policy: unsupported signature algorithm %q", doc.SignatureAlgorithm)
	}
	canonical, err := doc.CanonicalBytes()
	if err != nil {
		return err
	}
	recomputedHash := canonicalize.HashBytes(canonical)
	if recomputedHash != doc.SignatureHash {
		return fmt.Errorf("policy: signature_hash mismatch: stored %s, recomputed %s", doc.SignatureHash, recomputedHash)
	}
	if err := crypto.VerifyRSAPSS(verifyingKey, canonical, doc.Signature); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// CheckEngineCompatibility validates the document's policy_engine_version
// against the running engine's accepted semver constraint, e.g. "^1.0.0".
func CheckEngineCompatibility(doc Document, constraint string) error {
	if doc.EngineVersion == "" {
		return fmt.Errorf("policy: policy_engine_version is required")
	}
	docVersion, err := semver.NewVersion(doc.EngineVersion)
	if err != nil {
		return fmt.Errorf("policy: invalid policy_engine_version %q: %w", doc.EngineVersion, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("policy: invalid engine constraint %q: %w", constraint, err)
	}
	if !c.Check(docVersion) {
		return fmt.Errorf("policy: engine version %s does not satisfy constraint %s", doc.EngineVersion, constraint)
	}
	return nil
}
