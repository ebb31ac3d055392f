package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ransomeye/core/pkg/envelope"
)

// hostEventData is the subset of fields a linux-kind envelope's data
// payload may carry. Unknown fields in the original payload are kept
// in typed_telemetry.fields regardless of whether they map here.
type hostEventData struct {
	ProcessName string `json:"process_name"`
	FilePath    string `json:"file_path"`
}

type networkFlowData struct {
	SrcAddr  string `json:"src_addr"`
	DstAddr  string `json:"dst_addr"`
	DstPort  int    `json:"dst_port"`
	Protocol string `json:"protocol"`
}

// insertTypedTelemetry writes the required typed_telemetry row plus
// the kind-specific auxiliary row (host_events or network_flows). The
// typed_telemetry insert is required and propagates any failure; the
// auxiliary insert/update is best-effort and only logged on failure,
// since its columns are supplementary selectors, not the record of
// truth for the event itself.
func (s *Server) insertTypedTelemetry(ctx context.Context, tx *sql.Tx, kind Kind, rawEventID int64, agentID, nonce, algorithm string, evt envelope.SignedEvent) error {
	fields, err := json.Marshal(evt.Envelope.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO typed_telemetry
		   (raw_event_id, schema_name, fields, message_id, nonce, component_identity, host_id, signature, signature_algorithm, payload_sha256)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rawEventID, string(kind), fields,
		evt.Envelope.EventID, nonce, evt.SignerID, evt.Envelope.ComponentID, evt.Signature, algorithm, evt.PayloadHash,
	)
	if err != nil {
		return fmt.Errorf("insert typed_telemetry: %w", err)
	}

	// Postgres aborts the whole transaction on any failed statement, so the
	// best-effort auxiliary insert runs under a savepoint it can roll back to.
	if _, err := tx.ExecContext(ctx, `SAVEPOINT auxiliary_insert`); err != nil {
		return fmt.Errorf("savepoint before auxiliary insert: %w", err)
	}

	switch kind {
	case KindLinux:
		s.insertHostEvent(ctx, tx, rawEventID, agentID, evt)
	case KindDPI:
		s.insertNetworkFlow(ctx, tx, rawEventID, evt)
	}
	return nil
}

func (s *Server) insertHostEvent(ctx context.Context, tx *sql.Tx, rawEventID int64, agentID string, evt envelope.SignedEvent) {
	var data hostEventData
	_ = decodeInto(evt.Envelope.Data, &data)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO host_events (raw_event_id, host_id, process_name, file_path, occurred_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		rawEventID, agentID, data.ProcessName, data.FilePath, evt.Envelope.Timestamp,
	)
	if err != nil {
		// Auxiliary failure: the typed_telemetry row already holds the
		// full raw payload, so a malformed host_events row is rolled back
		// to the savepoint rather than aborting the transaction — only
		// the typed_telemetry insert is required.
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT auxiliary_insert`)
		s.log.Warn("auxiliary host_events insert failed", "raw_event_id", rawEventID, "error", err)
	}
}

func (s *Server) insertNetworkFlow(ctx context.Context, tx *sql.Tx, rawEventID int64, evt envelope.SignedEvent) {
	var data networkFlowData
	_ = decodeInto(evt.Envelope.Data, &data)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO network_flows (raw_event_id, src_addr, dst_addr, dst_port, protocol, observed_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		rawEventID, bindINET(data.SrcAddr), bindINET(data.DstAddr), data.DstPort, data.Protocol, evt.Envelope.Timestamp,
	)
	if err != nil {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT auxiliary_insert`)
		s.log.Warn("auxiliary network_flows insert failed", "raw_event_id", rawEventID, "error", err)
	}
}

func decodeInto(data interface{}, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
