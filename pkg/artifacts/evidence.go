package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RetentionArchive is the JSON document written to the evidence store
// before a retention batch is deleted, when archival is enabled (the
// orchestrator enables it whenever NewStoreFromEnv returns a store). It lets the external
// reporting/forensics surface recover purged rows even though the live
// table no longer holds them.
type RetentionArchive struct {
	RunID      string            `json:"run_id"`
	Table      string            `json:"table"`
	BatchIndex int               `json:"batch_index"`
	ArchivedAt time.Time         `json:"archived_at"`
	RowCount   int               `json:"row_count"`
	Rows       []json.RawMessage `json:"rows"`
}

// Exporter writes evidence blobs derived from the audit chain and
// retention purge batches to a content-addressed Store.
type Exporter struct {
	store Store
}

// NewExporter wraps a Store as an evidence exporter.
func NewExporter(store Store) *Exporter {
	return &Exporter{store: store}
}

// ArchiveRetentionBatch persists a retention batch before it is deleted
// from its source table, returning the content hash of the archived blob.
func (e *Exporter) ArchiveRetentionBatch(ctx context.Context, archive RetentionArchive) (string, error) {
	data, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal retention archive: %w", err)
	}
	hash, err := e.store.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("artifacts: archive retention batch: %w", err)
	}
	return hash, nil
}

// EvidenceBundle is an exported slice of the hash-chained audit log,
// consumed by the (external) reporting/forensics surface.
type EvidenceBundle struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	FirstAuditID  string            `json:"first_audit_id"`
	LastAuditID   string            `json:"last_audit_id"`
	RecordCount   int               `json:"record_count"`
	ChainHeadHex  string            `json:"chain_head_hex"`
	AuditPayloads []json.RawMessage `json:"audit_payloads"`
}

// ExportEvidenceBundle persists an evidence bundle and returns its content
// hash, which becomes the bundle's external reference.
func (e *Exporter) ExportEvidenceBundle(ctx context.Context, bundle EvidenceBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal evidence bundle: %w", err)
	}
	hash, err := e.store.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("artifacts: export evidence bundle: %w", err)
	}
	return hash, nil
}
