package sensor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ransomeye/core/pkg/envelope"
)

// Spool is a local durable queue for signed events awaiting delivery.
// It survives a sensor process restart, matching the teacher's
// lite-mode fallback store choice of pure-Go SQLite over an embedded
// KV library.
type Spool struct {
	db *sql.DB
}

// OpenSpool opens (creating if necessary) a durable spool at path. Use
// "file::memory:?cache=shared" in tests for an ephemeral spool.
func OpenSpool(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sensor: open spool: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS spool_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signed_event_json TEXT NOT NULL,
		enqueued_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sensor: create spool table: %w", err)
	}
	return &Spool{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Enqueue durably appends a signed event to the spool.
func (s *Spool) Enqueue(ctx context.Context, evt envelope.SignedEvent) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("sensor: marshal signed event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spool_events (signed_event_json, enqueued_at) VALUES (?, ?)`,
		string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SpooledEvent pairs a spool row id with its decoded signed event, so a
// caller can acknowledge (delete) it after successful delivery.
type SpooledEvent struct {
	ID    int64
	Event envelope.SignedEvent
}

// Oldest returns up to limit spooled events in enqueue order, oldest
// first — the delivery loop drains the spool FIFO so a sustained outage
// does not starve the events it captured first.
func (s *Spool) Oldest(ctx context.Context, limit int) ([]SpooledEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, signed_event_json FROM spool_events ORDER BY id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sensor: query spool: %w", err)
	}
	defer rows.Close()

	var out []SpooledEvent
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("sensor: scan spool row: %w", err)
		}
		var evt envelope.SignedEvent
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("sensor: decode spooled event %d: %w", id, err)
		}
		out = append(out, SpooledEvent{ID: id, Event: evt})
	}
	return out, rows.Err()
}

// Ack removes a delivered event from the spool.
func (s *Spool) Ack(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spool_events WHERE id = ?`, id)
	return err
}

// Depth returns the current number of undelivered spooled events.
func (s *Spool) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spool_events`).Scan(&n)
	return n, err
}
