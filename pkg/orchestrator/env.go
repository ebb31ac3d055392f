package orchestrator

import (
	"fmt"
	"os"
)

// nonSecretFingerprintVars lists the environment variables folded into
// the startup env fingerprint. Credential-bearing variables (DB_PASS)
// are deliberately excluded — the fingerprint is persisted in
// startup_events and must never leak a secret.
var nonSecretFingerprintVars = []string{
	"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER",
	"ROOT_KEY_PATH", "POLICY_DIR", "TRUST_STORE_PATH", "SCHEMA_SQL_PATH",
	"RETENTION_BATCH_SIZE", "RETENTION_MAX_BATCHES_PER_TABLE", "RETENTION_SLEEP_MS_BETWEEN_BATCHES",
	"DRY_RUN", "POLICY_MAPPINGS",
	"BUILD_HASH", "VERSION", "INSTANCE_ID",
}

func nonSecretEnvPairs() map[string]string {
	pairs := make(map[string]string, len(nonSecretFingerprintVars))
	for _, key := range nonSecretFingerprintVars {
		pairs[key] = os.Getenv(key)
	}
	return pairs
}

func requireDirExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("required directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("required path %s is not a directory", path)
	}
	return nil
}

func requireFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("required file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("required path %s is a directory, expected a file", path)
	}
	return nil
}
