package deception_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/deception"
)

// assetYAML mirrors the unexported rawAsset shape the registry parses
// into — same json tags, so canonicalize.JCS produces byte-identical
// signed content on both the signing (test) and verifying (registry)
// sides regardless of which Go type holds the values.
type assetYAML struct {
	AssetID          string                 `yaml:"asset_id" json:"asset_id"`
	AssetType        string                 `yaml:"asset_type" json:"asset_type"`
	InteractionTypes []string               `yaml:"interaction_types" json:"interaction_types"`
	MaxLifetimeSecs  int                    `yaml:"max_lifetime_seconds" json:"max_lifetime_seconds"`
	TeardownProcedure struct {
		Steps []string `yaml:"steps" json:"steps"`
	} `yaml:"teardown_procedure" json:"teardown_procedure"`
	Metadata  map[string]interface{} `yaml:"metadata" json:"metadata"`
	SignerID  string                 `yaml:"signer_id" json:"signer_id"`
	Signature string                 `yaml:"signature,omitempty" json:"signature"`
}

func signedAssetFile(t *testing.T, dir, name string, a assetYAML, signer *crypto.EventSigner) {
	t.Helper()
	a.Signature = ""
	if a.Metadata == nil {
		// yaml.Marshal writes a nil map as "metadata: {}", which the registry
		// reads back as an empty map; sign that same value.
		a.Metadata = map[string]interface{}{}
	}
	canonical, err := canonicalize.JCS(a)
	require.NoError(t, err)
	sig := signer.SignRaw(canonical)
	a.Signature = sig

	out, err := yaml.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), out, 0o644))
}

func newRegistryWithSigner(t *testing.T) (*deception.Registry, *crypto.EventSigner) {
	t.Helper()
	registry, err := deception.NewRegistry()
	require.NoError(t, err)
	signer, err := crypto.NewEventSigner("deception-signer")
	require.NoError(t, err)
	return registry, signer
}

func verifyKeyFor(signer *crypto.EventSigner) func(string) (string, bool) {
	return func(signerID string) (string, bool) {
		if signerID != signer.KeyID() {
			return "", false
		}
		return signer.PublicKeyHex(), true
	}
}

func TestRegistry_LoadsValidSignedAsset(t *testing.T) {
	dir := t.TempDir()
	registry, signer := newRegistryWithSigner(t)

	a := assetYAML{
		AssetID:          "honeypot-1",
		AssetType:        "decoy_host",
		InteractionTypes: []string{"ssh"},
		MaxLifetimeSecs:  3600,
		SignerID:         signer.KeyID(),
	}
	a.TeardownProcedure.Steps = []string{"stop_service"}
	signedAssetFile(t, dir, "honeypot-1.yaml", a, signer)

	results, err := registry.LoadDirectory(dir, verifyKeyFor(signer))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, registry.Count())

	loaded, ok := registry.Get("honeypot-1")
	assert.True(t, ok)
	assert.Equal(t, deception.AssetTypeDecoyHost, loaded.AssetType)
}

func TestRegistry_RejectsForbiddenAssetType(t *testing.T) {
	dir := t.TempDir()
	registry, signer := newRegistryWithSigner(t)

	a := assetYAML{
		AssetID:          "bad-1",
		AssetType:        "traffic_interceptor",
		InteractionTypes: []string{"tcp"},
		MaxLifetimeSecs:  60,
		SignerID:         signer.KeyID(),
	}
	a.TeardownProcedure.Steps = []string{"stop_service"}
	signedAssetFile(t, dir, "bad.yaml", a, signer)

	results, err := registry.LoadDirectory(dir, verifyKeyFor(signer))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_RejectsTamperedSignature(t *testing.T) {
	dir := t.TempDir()
	registry, signer := newRegistryWithSigner(t)

	a := assetYAML{
		AssetID:          "honeypot-2",
		AssetType:        "decoy_port",
		InteractionTypes: []string{"ftp"},
		MaxLifetimeSecs:  120,
		SignerID:         signer.KeyID(),
	}
	a.TeardownProcedure.Steps = []string{"remove_listener"}
	a.Signature = hex.EncodeToString([]byte("not-a-real-signature-bytes-pad"))

	out, err := yaml.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "honeypot-2.yaml"), out, 0o644))

	results, err := registry.LoadDirectory(dir, verifyKeyFor(signer))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRegistry_RejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	registry, _ := newRegistryWithSigner(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incomplete.yaml"), []byte("asset_id: x\n"), 0o644))

	results, err := registry.LoadDirectory(dir, func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func buildDeployedFixture(t *testing.T) (*deception.Registry, *deception.Deployer, string) {
	t.Helper()
	dir := t.TempDir()
	registry, signer := newRegistryWithSigner(t)

	a := assetYAML{
		AssetID:          "honeypot-3",
		AssetType:        "fake_file",
		InteractionTypes: []string{"read"},
		MaxLifetimeSecs:  3600,
		SignerID:         signer.KeyID(),
	}
	a.TeardownProcedure.Steps = []string{"delete_file"}
	signedAssetFile(t, dir, "honeypot-3.yaml", a, signer)

	_, err := registry.LoadDirectory(dir, verifyKeyFor(signer))
	require.NoError(t, err)

	deployer := deception.NewDeployer(registry, allowOverlapChecker{allow: true})
	return registry, deployer, "honeypot-3"
}

type allowOverlapChecker struct{ allow bool }

func (a allowOverlapChecker) Overlaps(ctx context.Context, asset deception.Asset) (bool, error) {
	return !a.allow, nil
}

func TestDeployer_DeployIsIdempotent(t *testing.T) {
	_, deployer, assetID := buildDeployedFixture(t)
	ctx := context.Background()

	first, err := deployer.Deploy(ctx, assetID)
	require.NoError(t, err)
	second, err := deployer.Deploy(ctx, assetID)
	require.NoError(t, err)

	assert.Equal(t, first.DeployedAt, second.DeployedAt)
	assert.Equal(t, deception.DeploymentActive, second.Status)
}

func TestDeployer_RefusesOnProductionOverlap(t *testing.T) {
	registry, _, assetID := buildDeployedFixture(t)
	deployer := deception.NewDeployer(registry, allowOverlapChecker{allow: false})

	_, err := deployer.Deploy(context.Background(), assetID)
	assert.Error(t, err)
}

func TestDeployer_DefaultOverlapCheckerRefusesEverything(t *testing.T) {
	registry, _, assetID := buildDeployedFixture(t)
	deployer := deception.NewDeployer(registry, nil)

	_, err := deployer.Deploy(context.Background(), assetID)
	assert.Error(t, err)
}

func TestTeardownEngine_ExplicitTeardownCompletes(t *testing.T) {
	registry, deployer, assetID := buildDeployedFixture(t)
	ctx := context.Background()
	_, err := deployer.Deploy(ctx, assetID)
	require.NoError(t, err)

	engine := deception.NewTeardownEngine(registry, deployer, nil)
	require.NoError(t, engine.TeardownExplicit(ctx, assetID, "operator-1", "test"))

	dep, ok := deployer.Get(assetID)
	require.True(t, ok)
	assert.Equal(t, deception.DeploymentTeardownComplete, dep.Status)
}

func TestTeardownEngine_EmergencyFailureTripsSafeHalt(t *testing.T) {
	registry, deployer, _ := buildDeployedFixture(t)
	engine := deception.NewTeardownEngine(registry, deployer, nil)

	err := engine.TeardownEmergency(context.Background(), []string{"does-not-exist"})
	assert.Error(t, err)
	assert.True(t, engine.InSafeHalt())

	err = engine.TeardownExplicit(context.Background(), "anything", "op", "reason")
	assert.Error(t, err)
}
