// Package config loads the process environment into a validated
// configuration struct. Database coordinates are fail-closed required:
// a missing DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASS is a startup error,
// never a silently-applied default, since a default would point the
// fabric at the wrong database without anyone noticing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the environment-derived configuration for one running
// component instance.
type Config struct {
	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	RootKeyPath       string
	PolicyDir         string
	TrustStorePath    string
	SchemaSQLPath     string
	DeceptionAssetDir string

	RetentionBatchSize            int
	RetentionMaxBatchesPerTable   int
	RetentionSleepMSBetweenBatches int

	DryRun         bool
	PolicyMappings map[string]string

	BuildHash  string
	Version    string
	InstanceID string

	OTLPEndpoint      string
	OTLPEnabled       bool
	OTLPSampleRate    float64
	OTLPInsecure      bool
}

// DatabaseURL renders the loaded DB_* fields as a postgres connection
// string suitable for lib/pq.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// Load reads the recognized environment variables, failing closed on
// any missing required value rather than substituting a default that
// could point the fabric at the wrong database or wrong paths.
func Load() (*Config, error) {
	cfg := &Config{}
	var missing []string

	cfg.DBHost = requireEnv("DB_HOST", &missing)
	cfg.DBPort = requireEnv("DB_PORT", &missing)
	cfg.DBName = requireEnv("DB_NAME", &missing)
	cfg.DBUser = requireEnv("DB_USER", &missing)
	cfg.DBPass = requireEnv("DB_PASS", &missing)

	cfg.RootKeyPath = requireEnv("ROOT_KEY_PATH", &missing)
	cfg.PolicyDir = requireEnv("POLICY_DIR", &missing)
	cfg.TrustStorePath = requireEnv("TRUST_STORE_PATH", &missing)
	cfg.SchemaSQLPath = requireEnv("SCHEMA_SQL_PATH", &missing)
	cfg.DeceptionAssetDir = os.Getenv("DECEPTION_ASSET_DIR")

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %v", missing)
	}

	var err error
	if cfg.RetentionBatchSize, err = requirePositiveIntEnv("RETENTION_BATCH_SIZE"); err != nil {
		return nil, err
	}
	if cfg.RetentionMaxBatchesPerTable, err = requirePositiveIntEnv("RETENTION_MAX_BATCHES_PER_TABLE"); err != nil {
		return nil, err
	}
	if cfg.RetentionSleepMSBetweenBatches, err = requireNonNegativeIntEnv("RETENTION_SLEEP_MS_BETWEEN_BATCHES"); err != nil {
		return nil, err
	}

	switch dr := os.Getenv("DRY_RUN"); dr {
	case "1":
		cfg.DryRun = true
	case "0", "":
		cfg.DryRun = false
	default:
		return nil, fmt.Errorf("config: DRY_RUN must be \"0\" or \"1\", got %q", dr)
	}

	cfg.PolicyMappings = parsePolicyMappings(os.Getenv("POLICY_MAPPINGS"))

	cfg.BuildHash = os.Getenv("BUILD_HASH")
	cfg.Version = os.Getenv("VERSION")
	cfg.InstanceID = os.Getenv("INSTANCE_ID")

	cfg.OTLPEndpoint = os.Getenv("RANSOMEYE_OTLP_ENDPOINT")
	cfg.OTLPEnabled = cfg.OTLPEndpoint != ""
	cfg.OTLPInsecure = os.Getenv("RANSOMEYE_OTLP_INSECURE") == "1"
	cfg.OTLPSampleRate = 1.0
	if raw := os.Getenv("RANSOMEYE_OTLP_SAMPLE_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("config: RANSOMEYE_OTLP_SAMPLE_RATE must be a float, got %q", raw)
		}
		cfg.OTLPSampleRate = rate
	}

	return cfg, nil
}

func requireEnv(key string, missing *[]string) string {
	v := os.Getenv(key)
	if v == "" {
		*missing = append(*missing, key)
	}
	return v
}

func requirePositiveIntEnv(key string) (int, error) {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, os.Getenv(key))
	}
	return n, nil
}

func requireNonNegativeIntEnv(key string) (int, error) {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("config: %s must be a non-negative integer, got %q", key, os.Getenv(key))
	}
	return n, nil
}

func parsePolicyMappings(raw string) map[string]string {
	mappings := make(map[string]string)
	if raw == "" {
		return mappings
	}
	for _, pair := range strings.Split(raw, ",") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		mappings[k] = v
	}
	return mappings
}
