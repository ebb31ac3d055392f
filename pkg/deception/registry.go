// Package deception implements the lifecycle of deception assets:
// loading and validating their definitions (Registry), deploying them
// safely (Deployer), and tearing them down under explicit, automatic,
// or emergency triggers (TeardownEngine).
package deception

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
)

// AssetType enumerates the deployable decoy kinds this fabric supports.
type AssetType string

const (
	AssetTypeDecoyHost        AssetType = "decoy_host"
	AssetTypeDecoyPort        AssetType = "decoy_port"
	AssetTypeFakeCredential   AssetType = "fake_credential"
	AssetTypeFakeFile         AssetType = "fake_file"
	AssetTypeTrafficInterceptor AssetType = "traffic_interceptor" // forbidden, never deployable
)

// forbiddenTypes are asset types the registry refuses to load at all —
// a deception asset that would intercept or proxy real traffic is not
// a decoy, it is a man-in-the-middle, and has no home here.
var forbiddenTypes = map[AssetType]bool{
	AssetTypeTrafficInterceptor: true,
}

var allowedTypes = map[AssetType]bool{
	AssetTypeDecoyHost:      true,
	AssetTypeDecoyPort:      true,
	AssetTypeFakeCredential: true,
	AssetTypeFakeFile:       true,
}

// TeardownStep is one instruction executed, in order, to tear an asset
// down: stop_service, remove_listener, delete_file, remove_credential.
type TeardownStep string

const (
	StepStopService     TeardownStep = "stop_service"
	StepRemoveListener  TeardownStep = "remove_listener"
	StepDeleteFile      TeardownStep = "delete_file"
	StepRemoveCredential TeardownStep = "remove_credential"
)

// Asset is one loaded, verified deception asset definition.
type Asset struct {
	AssetID          string                 `json:"asset_id"`
	AssetType        AssetType              `json:"asset_type"`
	InteractionTypes []string               `json:"interaction_types"`
	MaxLifetimeSecs  int                    `json:"max_lifetime_seconds"`
	TeardownSteps    []TeardownStep         `json:"-"`
	Metadata         map[string]interface{} `json:"metadata"`
	SignerID         string                 `json:"signer_id"`
	Signature        string                 `json:"signature"`
}

type rawAsset struct {
	AssetID          string                 `yaml:"asset_id" json:"asset_id"`
	AssetType        string                 `yaml:"asset_type" json:"asset_type"`
	InteractionTypes []string               `yaml:"interaction_types" json:"interaction_types"`
	MaxLifetimeSecs  int                    `yaml:"max_lifetime_seconds" json:"max_lifetime_seconds"`
	TeardownProcedure struct {
		Steps []string `yaml:"steps" json:"steps"`
	} `yaml:"teardown_procedure" json:"teardown_procedure"`
	Metadata  map[string]interface{} `yaml:"metadata" json:"metadata"`
	SignerID  string                 `yaml:"signer_id" json:"signer_id"`
	Signature string                 `yaml:"signature" json:"signature"`
}

// assetSchemaJSON is the JSON Schema every asset definition must
// satisfy before signature verification is even attempted.
const assetSchemaJSON = `{
	"type": "object",
	"required": ["asset_id", "asset_type", "interaction_types", "max_lifetime_seconds", "teardown_procedure", "signer_id", "signature"],
	"properties": {
		"asset_id": {"type": "string", "minLength": 1},
		"asset_type": {"type": "string", "minLength": 1},
		"interaction_types": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
		"max_lifetime_seconds": {"type": "integer", "exclusiveMinimum": 0},
		"teardown_procedure": {
			"type": "object",
			"required": ["steps"],
			"properties": {"steps": {"type": "array", "minItems": 1, "items": {"type": "string"}}}
		},
		"signer_id": {"type": "string", "minLength": 1},
		"signature": {"type": "string", "minLength": 1}
	}
}`

const assetSchemaResourceID = "ransomeye://deception-asset.schema.json"

func compileAssetSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(assetSchemaResourceID, strings.NewReader(assetSchemaJSON)); err != nil {
		return nil, fmt.Errorf("deception: add schema resource: %w", err)
	}
	return compiler.Compile(assetSchemaResourceID)
}

// Registry holds every deception asset that passed schema validation,
// type allowlisting, and signature verification, indexed by asset_id.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Asset
	schema *jsonschema.Schema
}

// NewRegistry compiles the asset schema once and returns an empty registry.
func NewRegistry() (*Registry, error) {
	schema, err := compileAssetSchema()
	if err != nil {
		return nil, err
	}
	return &Registry{assets: make(map[string]Asset), schema: schema}, nil
}

// LoadResult records the outcome of loading one asset file.
type LoadResult struct {
	FileName string
	Err      error
}

// LoadDirectory scans dir for *.yaml/*.yml asset definitions, verifying
// each against verifyKey (an Ed25519 public key registered for the
// signer_id the asset itself claims). A bad file is reported and
// skipped; the scan as a whole never aborts.
func (r *Registry) LoadDirectory(dir string, verifyKeyFor func(signerID string) (ed25519PublicKeyHex string, ok bool)) ([]LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("deception: read asset directory %s: %w", dir, err)
	}

	var results []LoadResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.loadFile(path, verifyKeyFor); err != nil {
			results = append(results, LoadResult{FileName: entry.Name(), Err: err})
			continue
		}
		results = append(results, LoadResult{FileName: entry.Name()})
	}
	return results, nil
}

func (r *Registry) loadFile(path string, verifyKeyFor func(signerID string) (string, bool)) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := canonicalize.ValidateStrictUTF8(raw); err != nil {
		return err
	}

	var ra rawAsset
	if err := yaml.Unmarshal(raw, &ra); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	asJSON, err := json.Marshal(ra)
	if err != nil {
		return fmt.Errorf("re-encode for schema validation: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(asJSON, &instance); err != nil {
		return fmt.Errorf("decode for schema validation: %w", err)
	}
	if err := r.schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	assetType := AssetType(ra.AssetType)
	if forbiddenTypes[assetType] {
		return fmt.Errorf("asset_type %q is forbidden", ra.AssetType)
	}
	if !allowedTypes[assetType] {
		return fmt.Errorf("asset_type %q is not in the allowed set", ra.AssetType)
	}

	signingBody := ra
	signingBody.Signature = ""
	canonicalBytes, err := canonicalize.JCS(signingBody)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}

	pubKeyHex, ok := verifyKeyFor(ra.SignerID)
	if !ok {
		return fmt.Errorf("unknown signer_id %q", ra.SignerID)
	}
	verified, err := crypto.VerifyRaw(pubKeyHex, ra.Signature, canonicalBytes)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if !verified {
		return fmt.Errorf("signature does not verify")
	}

	steps := make([]TeardownStep, 0, len(ra.TeardownProcedure.Steps))
	for _, s := range ra.TeardownProcedure.Steps {
		steps = append(steps, TeardownStep(s))
	}

	asset := Asset{
		AssetID:          ra.AssetID,
		AssetType:        assetType,
		InteractionTypes: ra.InteractionTypes,
		MaxLifetimeSecs:  ra.MaxLifetimeSecs,
		TeardownSteps:    steps,
		Metadata:         ra.Metadata,
		SignerID:         ra.SignerID,
		Signature:        ra.Signature,
	}

	r.mu.Lock()
	r.assets[asset.AssetID] = asset
	r.mu.Unlock()
	return nil
}

// Get returns a loaded asset by id.
func (r *Registry) Get(assetID string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[assetID]
	return a, ok
}

// All returns every loaded asset.
func (r *Registry) All() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}

// Count returns the number of currently registered assets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
