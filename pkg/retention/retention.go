// Package retention implements the fabric's retention enforcer: it
// purges rows older than a per-table policy in bounded batches, gated
// by a dry-run mode that the orchestrator always exercises once at
// startup before any live run is permitted.
package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/ransomeye/core/pkg/artifacts"
	"github.com/ransomeye/core/pkg/auditchain"
	"github.com/ransomeye/core/pkg/observability"
)

// denylist holds fully-qualified tables retention may never target,
// either because they are append-only audit surfaces or because
// purging them would destroy the fabric's own trust material.
var denylist = map[string]bool{
	"ransomeye.immutable_audit_log":         true,
	"ransomeye.trust_verification_records":  true,
	"ransomeye.signature_validation_events": true,
	"ransomeye.retention_policies":          true,
}

// allowedSchemas is the fixed set of schemas a retention policy's
// table_name may name. Any schema outside this set is rejected before
// the identifier is ever quoted into a query.
var allowedSchemas = map[string]bool{
	"ransomeye": true,
	"public":    true,
}

// timeColumnCandidates is the fixed scan order used to pick the time
// column a table is purged against. The first candidate column whose
// declared type contains "timestamp" or "date" wins.
var timeColumnCandidates = []string{
	"created_at", "observed_at", "event_time", "received_at",
	"last_seen_at", "first_seen_at", "timestamp",
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QualifiedTable is a parsed, validated "schema.table" retention target.
type QualifiedTable struct {
	Schema string
	Table  string
}

// FQN returns the dotted schema-qualified name.
func (q QualifiedTable) FQN() string {
	return q.Schema + "." + q.Table
}

// Quoted returns the double-quote-delimited "schema"."table" form safe
// to interpolate into a query, since both segments have already passed
// ValidateIdentifier.
func (q QualifiedTable) Quoted() string {
	return fmt.Sprintf("%q.%q", q.Schema, q.Table)
}

// ParseQualifiedTable splits a retention_policies.table_name value into
// its schema and table segments, fail-closed: exactly two segments are
// required, the schema must be in allowedSchemas, and each segment must
// satisfy the strict identifier grammar before it is trusted anywhere
// near a SQL string.
func ParseQualifiedTable(fqn string) (QualifiedTable, error) {
	parts := strings.Split(fqn, ".")
	if len(parts) != 2 {
		return QualifiedTable{}, fmt.Errorf("retention: table_name must be \"schema.table\" (got %q)", fqn)
	}
	schema, table := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	if !allowedSchemas[schema] {
		return QualifiedTable{}, fmt.Errorf("retention: illegal schema %q (allowed: ransomeye, public)", schema)
	}
	if err := ValidateIdentifier(schema); err != nil {
		return QualifiedTable{}, err
	}
	if err := ValidateIdentifier(table); err != nil {
		return QualifiedTable{}, err
	}
	return QualifiedTable{Schema: schema, Table: table}, nil
}

// Policy is one row from retention_policies.
type Policy struct {
	TableName        string
	RetentionDays    int
	RetentionEnabled bool
}

// Config tunes the batch purge loop.
type Config struct {
	BatchSize              int
	MaxBatchesPerTable     int
	SleepBetweenBatches    time.Duration
}

// TableResult summarizes one table's purge pass.
type TableResult struct {
	TableName      string
	TimeColumn     string
	CandidateCount int64
	BatchesRun     int
	RowsDeleted    int64
	DryRun         bool
}

// Enforcer runs the retention sweep against a live database. LiveRun
// toggles between reporting only (the safe default) and issuing
// deletes — SetLiveRun/LiveRun satisfy the control-surface interface
// the admin API authorizes against.
type Enforcer struct {
	db       *sql.DB
	chain    *auditchain.Chain
	cfg      Config
	liveRun  bool
	guard    cel.Program
	archiver *artifacts.Exporter
	obs      *observability.Provider
}

// NewEnforcer builds an Enforcer. The safety guard program, if non-nil,
// is evaluated per-table before any live delete — a table for which the
// guard does not evaluate to true is skipped rather than purged, even
// in live mode.
func NewEnforcer(db *sql.DB, chain *auditchain.Chain, cfg Config, guard cel.Program) *Enforcer {
	return &Enforcer{db: db, chain: chain, cfg: cfg, guard: guard}
}

// SetArchiver enables archive-before-purge: every batch of rows about
// to be deleted is first written to the given evidence exporter. A nil
// archiver (the default) means deletes happen without archival, which
// is appropriate for tables whose rows are reconstructible from raw
// upstream telemetry the fabric doesn't otherwise retain.
func (e *Enforcer) SetArchiver(archiver *artifacts.Exporter) {
	e.archiver = archiver
}

// SetObservability wires a tracer/metrics provider; a nil provider
// (the default) leaves Run's spans and purge counters inert.
func (e *Enforcer) SetObservability(obs *observability.Provider) {
	e.obs = obs
}

// SetLiveRun switches the enforcer between dry-run (report only) and
// live (issue deletes) mode.
func (e *Enforcer) SetLiveRun(enabled bool) {
	e.liveRun = enabled
}

// LiveRun reports the enforcer's current mode.
func (e *Enforcer) LiveRun() bool {
	return e.liveRun
}

// Run loads every enabled retention policy and sweeps each table in
// turn, returning one TableResult per table and aborting the whole
// sweep on the first fatal condition (denylist hit, illegal
// identifier, missing table, or no eligible time column) — retention
// bugs are denial-of-storage bugs, and failing loud beats failing
// silent here.
func (e *Enforcer) Run(ctx context.Context) ([]TableResult, error) {
	policies, err := e.loadPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: load policies: %w", err)
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("retention: no enabled retention policies found")
	}

	runID := uuid.New().String()

	var results []TableResult
	for _, p := range policies {
		var sweepCtx context.Context
		var done func(error)
		if e.obs != nil {
			sweepCtx, done = e.obs.TrackOperation(ctx, "retention.sweep_table",
				observability.RetentionAttributes(p.TableName, !e.liveRun)...)
		} else {
			sweepCtx, done = ctx, func(error) {}
		}
		result, err := e.sweepTable(sweepCtx, runID, p)
		done(err)
		if err != nil {
			return nil, fmt.Errorf("retention: table %q: %w", p.TableName, err)
		}
		if e.obs != nil && result.RowsDeleted > 0 {
			e.obs.RecordRetentionPurge(sweepCtx, result.RowsDeleted, observability.RetentionAttributes(result.TableName, result.DryRun)...)
		}
		results = append(results, result)

		if e.chain != nil {
			_, auditErr := e.chain.Append(ctx, "retention_enforcer", "retention.sweep", "table", p.TableName, map[string]interface{}{
				"table_name":      result.TableName,
				"time_column":     result.TimeColumn,
				"candidate_count": result.CandidateCount,
				"batches_run":     result.BatchesRun,
				"rows_deleted":    result.RowsDeleted,
				"dry_run":         result.DryRun,
			})
			if auditErr != nil {
				return nil, fmt.Errorf("retention: audit record for %q: %w", p.TableName, auditErr)
			}
		}
	}
	return results, nil
}

func (e *Enforcer) loadPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT table_name, retention_days, retention_enabled FROM retention_policies WHERE retention_enabled = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.TableName, &p.RetentionDays, &p.RetentionEnabled); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (e *Enforcer) sweepTable(ctx context.Context, runID string, p Policy) (TableResult, error) {
	qt, err := ParseQualifiedTable(p.TableName)
	if err != nil {
		return TableResult{}, err
	}
	if denylist[qt.FQN()] {
		return TableResult{}, fmt.Errorf("table %q is on the retention denylist", qt.FQN())
	}
	if !e.tableExists(ctx, qt) {
		return TableResult{}, fmt.Errorf("table %q does not exist", qt.FQN())
	}

	timeCol, err := e.findTimeColumn(ctx, qt)
	if err != nil {
		return TableResult{}, err
	}
	if err := ValidateIdentifier(timeCol); err != nil {
		return TableResult{}, err
	}

	if e.guard != nil && e.liveRun {
		allowed, evalErr := e.evaluateGuard(qt.FQN(), p.RetentionDays)
		if evalErr != nil {
			return TableResult{}, fmt.Errorf("safety guard evaluation: %w", evalErr)
		}
		if !allowed {
			return TableResult{TableName: qt.FQN(), TimeColumn: timeCol, DryRun: true}, nil
		}
	}

	var candidateCount int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %q < now() - ($1 || ' days')::interval`, qt.Quoted(), timeCol)
	if err := e.db.QueryRowContext(ctx, countQuery, p.RetentionDays).Scan(&candidateCount); err != nil {
		return TableResult{}, fmt.Errorf("count candidates: %w", err)
	}

	result := TableResult{
		TableName:      qt.FQN(),
		TimeColumn:     timeCol,
		CandidateCount: candidateCount,
		DryRun:         !e.liveRun,
	}
	if !e.liveRun {
		return result, nil
	}

	deleteQuery := fmt.Sprintf(
		`DELETE FROM %s WHERE ctid IN (
			SELECT ctid FROM %s WHERE %q < now() - ($1 || ' days')::interval
			ORDER BY %q ASC LIMIT $2
		)`, qt.Quoted(), qt.Quoted(), timeCol, timeCol)

	for batch := 0; batch < e.cfg.MaxBatchesPerTable; batch++ {
		if e.archiver != nil {
			if err := e.archiveBatch(ctx, runID, qt, timeCol, p.RetentionDays, batch); err != nil {
				return TableResult{}, fmt.Errorf("archive batch %d: %w", batch, err)
			}
		}

		res, err := e.db.ExecContext(ctx, deleteQuery, p.RetentionDays, e.cfg.BatchSize)
		if err != nil {
			return TableResult{}, fmt.Errorf("delete batch %d: %w", batch, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return TableResult{}, fmt.Errorf("read rows affected: %w", err)
		}
		result.BatchesRun++
		result.RowsDeleted += affected
		if affected == 0 {
			break
		}
		if e.cfg.SleepBetweenBatches > 0 && batch < e.cfg.MaxBatchesPerTable-1 {
			select {
			case <-ctx.Done():
				return TableResult{}, ctx.Err()
			case <-time.After(e.cfg.SleepBetweenBatches):
			}
		}
	}
	return result, nil
}

// archiveBatch persists the next batch of about-to-be-deleted rows to
// the evidence store before the delete runs. It reads the same
// cutoff/order/limit window the delete query uses, so the archived set
// and the deleted set match closely; an archive write failure aborts
// the sweep rather than risk a silent, unrecoverable purge.
func (e *Enforcer) archiveBatch(ctx context.Context, runID string, qt QualifiedTable, timeCol string, retentionDays, batchIndex int) error {
	selectQuery := fmt.Sprintf(
		`SELECT row_to_json(t) FROM %s t WHERE %q < now() - ($1 || ' days')::interval
		 ORDER BY %q ASC LIMIT $2`, qt.Quoted(), timeCol, timeCol)

	rows, err := e.db.QueryContext(ctx, selectQuery, retentionDays, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("select batch for archival: %w", err)
	}
	defer rows.Close()

	var archived []json.RawMessage
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan archival row: %w", err)
		}
		archived = append(archived, raw)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(archived) == 0 {
		return nil
	}

	_, err = e.archiver.ArchiveRetentionBatch(ctx, artifacts.RetentionArchive{
		RunID:      runID,
		Table:      qt.FQN(),
		BatchIndex: batchIndex,
		ArchivedAt: time.Now(),
		RowCount:   len(archived),
		Rows:       archived,
	})
	if err != nil {
		return fmt.Errorf("store archive: %w", err)
	}
	return nil
}

func (e *Enforcer) evaluateGuard(tableName string, retentionDays int) (bool, error) {
	out, _, err := e.guard.Eval(map[string]interface{}{
		"table_name":     tableName,
		"retention_days": retentionDays,
	})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("safety guard did not return a boolean")
	}
	return allowed, nil
}

func (e *Enforcer) tableExists(ctx context.Context, table QualifiedTable) bool {
	var exists bool
	_ = e.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		table.Schema, table.Table,
	).Scan(&exists)
	return exists
}

func (e *Enforcer) findTimeColumn(ctx context.Context, table QualifiedTable) (string, error) {
	for _, candidate := range timeColumnCandidates {
		var dataType string
		err := e.db.QueryRowContext(ctx,
			`SELECT data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`,
			table.Schema, table.Table, candidate,
		).Scan(&dataType)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", err
		}
		if containsTimestampOrDate(dataType) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no eligible time column found for table %q", table.FQN())
}

func containsTimestampOrDate(dataType string) bool {
	lower := strings.ToLower(dataType)
	return strings.Contains(lower, "timestamp") || strings.Contains(lower, "date")
}

// ValidateIdentifier enforces the strict identifier grammar retention
// targets must satisfy before they ever reach a SQL string — no
// quoting, no escaping, just a hard allowlist of characters.
func ValidateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("retention: illegal identifier %q", name)
	}
	return nil
}
