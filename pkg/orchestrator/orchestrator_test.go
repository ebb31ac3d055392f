package orchestrator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/config"
	"github.com/ransomeye/core/pkg/identity"
	"github.com/ransomeye/core/pkg/orchestrator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policy")
	trustDir := filepath.Join(dir, "trust")
	require.NoError(t, os.Mkdir(policyDir, 0o755))
	require.NoError(t, os.Mkdir(trustDir, 0o755))
	schemaPath := filepath.Join(dir, "schema.sql")
	require.NoError(t, os.WriteFile(schemaPath, []byte("-- empty"), 0o644))

	return &config.Config{
		PolicyDir:      policyDir,
		TrustStorePath: trustDir,
		SchemaSQLPath:  schemaPath,
	}
}

func TestNew_StartsInInitializingState(t *testing.T) {
	cfg := testConfig(t)
	o := orchestrator.New(cfg, nil, identity.Identity{ComponentID: "orch-1"})
	assert.Equal(t, orchestrator.StateInitializing, o.State())
}

func TestStart_FailsClosedWhenPolicyDirMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.PolicyDir = filepath.Join(cfg.PolicyDir, "does-not-exist")

	o := orchestrator.New(cfg, nil, identity.Identity{ComponentID: "orch-1"})
	err := o.Start(t.Context())

	require.Error(t, err)
	assert.Equal(t, orchestrator.StateFailed, o.State())
}

func TestStart_FailsClosedWhenSchemaFileMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.SchemaSQLPath = filepath.Join(filepath.Dir(cfg.SchemaSQLPath), "missing.sql")

	o := orchestrator.New(cfg, nil, identity.Identity{ComponentID: "orch-1"})
	err := o.Start(t.Context())

	require.Error(t, err)
	assert.Equal(t, orchestrator.StateFailed, o.State())
}
