// Package auditchain implements the fabric's append-only, hash-chained
// audit log. Every entry links to its predecessor by SHA-256 hash, so
// tampering with or removing any past entry breaks the chain for every
// entry after it.
package auditchain

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ransomeye/core/pkg/artifacts"
	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/database"
)

// Entry is one record appended to the chain.
type Entry struct {
	AuditID           int64
	ActorComponentID  string
	Action            string
	ObjectType        string
	ObjectID          string
	EventTime         time.Time
	Payload           map[string]interface{}
	PayloadSHA256     string
	PrevAuditID       sql.NullInt64
	PrevPayloadSHA256 string
	ChainHashSHA256   string
	SignatureStatus   string
}

// SignatureStatus values recorded alongside each entry.
const (
	SignatureStatusUnsigned = "unsigned"
	SignatureStatusVerified = "verified"
)

const maxAppendRetries = 5

// Chain appends entries to immutable_audit_log under a single
// SERIALIZABLE transaction per append, retrying on Postgres
// serialization failures (SQLSTATE 40001) rather than reading the
// last row and inserting in two separate statements — the race that
// lets two concurrent appenders both compute the same prev_chain_hash
// and fork the chain.
type Chain struct {
	db *sql.DB
}

// NewChain binds a Chain to db.
func NewChain(db *sql.DB) *Chain {
	return &Chain{db: db}
}

// Append adds one entry to the chain, deriving its payload hash and
// chain hash from the current tail under a serializable transaction.
// On a serialization conflict it retries, making at most
// maxAppendRetries attempts in total before giving up.
func (c *Chain) Append(ctx context.Context, actorComponentID, action, objectType, objectID string, payload map[string]interface{}) (Entry, error) {
	canonicalPayload, err := canonicalize.JCS(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("auditchain: canonicalize payload: %w", err)
	}
	payloadSum := crypto.SHA256Bytes(canonicalPayload)
	payloadHashHex := hex.EncodeToString(payloadSum[:])

	var entry Entry
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		entry, lastErr = c.appendOnce(ctx, actorComponentID, action, objectType, objectID, canonicalPayload, payloadHashHex, payloadSum)
		if lastErr == nil {
			return entry, nil
		}
		if !database.IsSerializationFailure(lastErr) {
			return Entry{}, lastErr
		}
	}
	return Entry{}, fmt.Errorf("auditchain: append failed after %d attempts: %w", maxAppendRetries, lastErr)
}

func (c *Chain) appendOnce(ctx context.Context, actorComponentID, action, objectType, objectID string, canonicalPayload []byte, payloadHashHex string, payloadSum [32]byte) (Entry, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Entry{}, fmt.Errorf("auditchain: begin: %w", err)
	}
	defer tx.Rollback()

	var prevAuditID sql.NullInt64
	var prevChainHashHex, prevEntryPayloadHashHex sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT audit_id, chain_hash_sha256, payload_sha256 FROM immutable_audit_log ORDER BY audit_id DESC LIMIT 1`,
	).Scan(&prevAuditID, &prevChainHashHex, &prevEntryPayloadHashHex)

	var prevChainHash [32]byte
	var prevPayloadHashHex string
	switch {
	case err == sql.ErrNoRows:
		prevChainHash = crypto.GenesisChainHash
		prevPayloadHashHex = hex.EncodeToString(crypto.GenesisChainHash[:])
	case err != nil:
		return Entry{}, fmt.Errorf("auditchain: read tail: %w", err)
	default:
		decoded, decErr := hex.DecodeString(prevChainHashHex.String)
		if decErr != nil || len(decoded) != 32 {
			return Entry{}, fmt.Errorf("auditchain: corrupt stored chain hash: %w", decErr)
		}
		copy(prevChainHash[:], decoded)
		prevPayloadHashHex = prevEntryPayloadHashHex.String
	}

	chainHash := crypto.ChainHash(prevChainHash, payloadSum)
	chainHashHex := hex.EncodeToString(chainHash[:])

	var auditID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO immutable_audit_log
			(actor_component_id, action, object_type, object_id, event_time,
			 payload_json, payload_sha256, prev_audit_id, prev_payload_sha256,
			 chain_hash_sha256, signature_status)
		 VALUES ($1,$2,$3,$4,now(),$5,$6,$7,$8,$9,$10)
		 RETURNING audit_id`,
		actorComponentID, action, objectType, objectID,
		json.RawMessage(canonicalPayload), payloadHashHex,
		nullableAuditID(prevAuditID), prevPayloadHashHex,
		chainHashHex, SignatureStatusUnsigned,
	).Scan(&auditID)
	if err != nil {
		return Entry{}, fmt.Errorf("auditchain: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("auditchain: commit: %w", err)
	}

	return Entry{
		AuditID:           auditID,
		ActorComponentID:  actorComponentID,
		Action:            action,
		ObjectType:        objectType,
		ObjectID:          objectID,
		PayloadSHA256:     payloadHashHex,
		PrevAuditID:       prevAuditID,
		PrevPayloadSHA256: prevPayloadHashHex,
		ChainHashSHA256:   chainHashHex,
		SignatureStatus:   SignatureStatusUnsigned,
	}, nil
}

func nullableAuditID(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

// VerifyChain walks the full audit log in audit_id order and recomputes
// every chain hash, failing on the first break. It never trusts a
// stored chain_hash_sha256 without rederiving it.
func VerifyChain(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT audit_id, payload_sha256, chain_hash_sha256 FROM immutable_audit_log ORDER BY audit_id ASC`,
	)
	if err != nil {
		return fmt.Errorf("auditchain: query: %w", err)
	}
	defer rows.Close()

	prevChainHash := crypto.GenesisChainHash
	for rows.Next() {
		var auditID int64
		var payloadHashHex, storedChainHashHex string
		if err := rows.Scan(&auditID, &payloadHashHex, &storedChainHashHex); err != nil {
			return fmt.Errorf("auditchain: scan: %w", err)
		}

		payloadSum, err := decodeHash(payloadHashHex)
		if err != nil {
			return fmt.Errorf("auditchain: entry %d: %w", auditID, err)
		}
		expected := crypto.ChainHash(prevChainHash, payloadSum)
		expectedHex := hex.EncodeToString(expected[:])
		if expectedHex != storedChainHashHex {
			return fmt.Errorf("auditchain: chain broken at audit_id %d: expected %s, stored %s", auditID, expectedHex, storedChainHashHex)
		}
		prevChainHash = expected
	}
	return rows.Err()
}

// ExportRange assembles an EvidenceBundle covering every audit log row
// with audit_id in [firstAuditID, lastAuditID], for a forensics
// operator to archive off-host via artifacts.Exporter. The chain head
// recorded in the bundle is the chain_hash_sha256 of the last row in
// range, not the live tail — a bundle is a point-in-time export, and a
// reader verifying it should not expect it to match a chain that has
// since grown.
func (c *Chain) ExportRange(ctx context.Context, firstAuditID, lastAuditID int64) (artifacts.EvidenceBundle, error) {
	if lastAuditID < firstAuditID {
		return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: last_audit_id %d precedes first_audit_id %d", lastAuditID, firstAuditID)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT audit_id, actor_component_id, action, object_type, object_id, event_time,
		        payload_json, payload_sha256, prev_audit_id, prev_payload_sha256,
		        chain_hash_sha256, signature_status
		 FROM immutable_audit_log
		 WHERE audit_id BETWEEN $1 AND $2
		 ORDER BY audit_id ASC`,
		firstAuditID, lastAuditID,
	)
	if err != nil {
		return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: export query: %w", err)
	}
	defer rows.Close()

	var payloads []json.RawMessage
	var chainHead string
	var count int
	for rows.Next() {
		var e Entry
		var payloadJSON []byte
		var prevAuditID sql.NullInt64
		if err := rows.Scan(
			&e.AuditID, &e.ActorComponentID, &e.Action, &e.ObjectType, &e.ObjectID, &e.EventTime,
			&payloadJSON, &e.PayloadSHA256, &prevAuditID, &e.PrevPayloadSHA256,
			&e.ChainHashSHA256, &e.SignatureStatus,
		); err != nil {
			return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: export scan: %w", err)
		}
		e.PrevAuditID = prevAuditID

		entryJSON, err := json.Marshal(struct {
			AuditID           int64           `json:"audit_id"`
			ActorComponentID  string          `json:"actor_component_id"`
			Action            string          `json:"action"`
			ObjectType        string          `json:"object_type"`
			ObjectID          string          `json:"object_id"`
			EventTime         time.Time       `json:"event_time"`
			Payload           json.RawMessage `json:"payload_json"`
			PayloadSHA256     string          `json:"payload_sha256"`
			PrevAuditID       *int64          `json:"prev_audit_id,omitempty"`
			PrevPayloadSHA256 string          `json:"prev_payload_sha256"`
			ChainHashSHA256   string          `json:"chain_hash_sha256"`
			SignatureStatus   string          `json:"signature_status"`
		}{
			AuditID: e.AuditID, ActorComponentID: e.ActorComponentID, Action: e.Action,
			ObjectType: e.ObjectType, ObjectID: e.ObjectID, EventTime: e.EventTime,
			Payload: payloadJSON, PayloadSHA256: e.PayloadSHA256,
			PrevAuditID: nullableAuditIDPtr(prevAuditID), PrevPayloadSHA256: e.PrevPayloadSHA256,
			ChainHashSHA256: e.ChainHashSHA256, SignatureStatus: e.SignatureStatus,
		})
		if err != nil {
			return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: marshal entry %d: %w", e.AuditID, err)
		}
		payloads = append(payloads, entryJSON)
		chainHead = e.ChainHashSHA256
		count++
	}
	if err := rows.Err(); err != nil {
		return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: export rows: %w", err)
	}
	if count == 0 {
		return artifacts.EvidenceBundle{}, fmt.Errorf("auditchain: no audit rows in range [%d, %d]", firstAuditID, lastAuditID)
	}

	return artifacts.EvidenceBundle{
		GeneratedAt:   time.Now().UTC(),
		FirstAuditID:  fmt.Sprintf("%d", firstAuditID),
		LastAuditID:   fmt.Sprintf("%d", lastAuditID),
		RecordCount:   count,
		ChainHeadHex:  chainHead,
		AuditPayloads: payloads,
	}, nil
}

func nullableAuditIDPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func decodeHash(hexStr string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(hexStr)
	if err != nil || len(decoded) != 32 {
		return out, fmt.Errorf("malformed hash %q", hexStr)
	}
	copy(out[:], decoded)
	return out, nil
}
