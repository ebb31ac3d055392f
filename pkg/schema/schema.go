// Package schema is the authoritative schema manager (C4): it applies
// the fabric's canonical DDL file to a fresh database on first run, or
// extracts and applies only the missing table blocks on an
// already-initialized one, then validates the resulting contract.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// RequiredTables is the full table set the schema contract checks for,
// grouped by concern: agent telemetry, ingestion, correlation/detection,
// policy/enforcement, model registry/inference, LLM request/response,
// immutable audit, trust, health/startup/error, components, retention.
var RequiredTables = []string{
	"agents",
	"host_events", "network_flows", "probe_events",
	"raw_events", "typed_telemetry",
	"correlation_findings", "detections",
	"policy_documents", "enforcement_actions",
	"model_registry", "inference_requests",
	"llm_requests", "llm_responses",
	"immutable_audit_log",
	"trust_verification_records", "signature_validation_events",
	"component_health", "startup_events", "error_events",
	"components",
	"retention_policies",
}

// RequiredColumns lists the columns the contract validates for the
// core-critical tables — those every operation in this fabric reads or
// writes directly, as opposed to tables that are purely downstream
// consumers of telemetry.
var RequiredColumns = map[string][]string{
	"components":           {"component_type", "component_name", "instance_id", "build_hash", "version", "started_at", "last_heartbeat_at"},
	"startup_events":       {"component_id", "event_time", "detail"},
	"component_health":     {"component_id", "status", "checked_at"},
	"error_events":         {"component_id", "error_kind", "message", "occurred_at"},
	"immutable_audit_log":  {"audit_id", "actor_component_id", "action", "object_type", "object_id", "event_time", "payload_json", "payload_sha256", "prev_audit_id", "prev_payload_sha256", "chain_hash_sha256", "signature_status"},
	"retention_policies":   {"table_name", "retention_days", "retention_enabled"},
}

// canonicalTypeName is the sentinel Postgres type the manager probes
// for to tell a fresh database from an already-initialized one.
const canonicalTypeName = "ransomeye_component_kind"

// baselineTable is the first table the canonical DDL file creates;
// its presence alongside the canonical type means the schema has
// already been applied at least once.
const baselineTable = "components"

// Manager owns the authoritative DDL file and applies or completes
// schema on a target database.
type Manager struct {
	db             *sql.DB
	authoritativeDDL string
}

// NewManager reads the authoritative DDL file once at construction —
// SCHEMA_SQL_PATH is the single source of truth for every table block
// this manager can extract and apply.
func NewManager(db *sql.DB, ddlPath string) (*Manager, error) {
	raw, err := readFile(ddlPath)
	if err != nil {
		return nil, fmt.Errorf("schema: read authoritative DDL %s: %w", ddlPath, err)
	}
	return &Manager{db: db, authoritativeDDL: normalize(raw)}, nil
}

// Apply runs the startup decision tree: first-run applies the full
// normalized file; an already-initialized database gets only the
// blocks for tables it is missing.
func (m *Manager) Apply(ctx context.Context) error {
	fresh, err := m.isFreshDatabase(ctx)
	if err != nil {
		return fmt.Errorf("schema: probe: %w", err)
	}

	if fresh {
		if _, err := m.db.ExecContext(ctx, m.authoritativeDDL); err != nil {
			return fmt.Errorf("schema: apply full schema: %w", err)
		}
		if _, err := m.db.ExecContext(ctx, "SET search_path TO ransomeye, public"); err != nil {
			return fmt.Errorf("schema: set search_path: %w", err)
		}
		return nil
	}

	missing, err := m.missingTables(ctx)
	if err != nil {
		return fmt.Errorf("schema: enumerate missing tables: %w", err)
	}
	for _, table := range missing {
		block, ok := ExtractTableBlock(m.authoritativeDDL, table)
		if !ok {
			return fmt.Errorf("schema: authoritative DDL has no block for required table %q", table)
		}
		if _, err := m.db.ExecContext(ctx, block); err != nil {
			return fmt.Errorf("schema: apply block for %q: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) isFreshDatabase(ctx context.Context) (bool, error) {
	var typeExists, tableExists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_type WHERE typname = $1)`, canonicalTypeName,
	).Scan(&typeExists)
	if err != nil {
		return false, err
	}
	err = m.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, baselineTable,
	).Scan(&tableExists)
	if err != nil {
		return false, err
	}
	return !typeExists || !tableExists, nil
}

func (m *Manager) missingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range RequiredTables {
		var exists bool
		err := m.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// ValidateContract checks that every required table exists and that
// the core-critical tables carry every required column. Any gap is
// fatal: a partially-applied schema is never an acceptable state to
// start serving traffic from.
func ValidateContract(ctx context.Context, db *sql.DB) error {
	for _, table := range RequiredTables {
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists); err != nil {
			return fmt.Errorf("schema: probe table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("schema: required table %q is missing", table)
		}
	}

	for table, columns := range RequiredColumns {
		rows, err := db.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = $1`, table,
		)
		if err != nil {
			return fmt.Errorf("schema: list columns for %q: %w", table, err)
		}
		present := make(map[string]bool)
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				rows.Close()
				return fmt.Errorf("schema: scan column for %q: %w", table, err)
			}
			present[col] = true
		}
		rows.Close()

		for _, required := range columns {
			if !present[required] {
				return fmt.Errorf("schema: table %q is missing required column %q", table, required)
			}
		}
	}
	return nil
}

var (
	createTableRE = regexp.MustCompile(`(?m)^CREATE TABLE IF NOT EXISTS (\S+)\s`)
	sectionMarkerRE = regexp.MustCompile(`(?m)^-- =+`)
)

// ExtractTableBlock finds the `CREATE TABLE IF NOT EXISTS <table> ...`
// statement in ddl and captures through its closing `);`, then
// greedily absorbs any immediately following COMMENT ON, CREATE INDEX
// IF NOT EXISTS ... ON <table>, and ALTER TABLE <table> statements
// until a section marker or another CREATE TABLE.
func ExtractTableBlock(ddl, table string) (string, bool) {
	loc := createTableRE.FindAllStringSubmatchIndex(ddl, -1)
	for _, m := range loc {
		name := ddl[m[2]:m[3]]
		if strings.TrimSuffix(name, "(") != table {
			continue
		}
		start := m[0]
		closeIdx := strings.Index(ddl[start:], ");")
		if closeIdx < 0 {
			return "", false
		}
		end := start + closeIdx + len(");")

		// Greedily absorb trailing COMMENT ON / CREATE INDEX / ALTER TABLE
		// statements that reference this table, stopping at a section
		// marker or the next CREATE TABLE.
		rest := ddl[end:]
		nextCreate := createTableRE.FindStringIndex(rest)
		nextMarker := sectionMarkerRE.FindStringIndex(rest)
		stop := len(rest)
		if nextCreate != nil && nextCreate[0] < stop {
			stop = nextCreate[0]
		}
		if nextMarker != nil && nextMarker[0] < stop {
			stop = nextMarker[0]
		}
		trailing := rest[:stop]

		return strings.TrimSpace(ddl[start:end] + "\n" + extractReferencingStatements(trailing, table)), true
	}
	return "", false
}

func extractReferencingStatements(block, table string) string {
	var kept []string
	for _, stmt := range splitStatements(block) {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "COMMENT ON") && strings.Contains(trimmed, table):
			kept = append(kept, trimmed)
		case strings.HasPrefix(trimmed, "CREATE INDEX IF NOT EXISTS") && strings.Contains(trimmed, "ON "+table):
			kept = append(kept, trimmed)
		case strings.HasPrefix(trimmed, "ALTER TABLE "+table):
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n")
}

func splitStatements(block string) []string {
	return strings.Split(block, ";")
}
