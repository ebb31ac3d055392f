// Package database provides the Postgres connection helper shared by
// the schema manager, audit chain, and retention enforcer: a single
// pooled *sql.DB plus a health check, driven by lib/pq.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Connect opens a pooled connection to the fabric's single Postgres
// database and verifies it with a ping before returning, so startup
// fails fast on a bad DSN rather than on the first query.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}

// Healthy reports whether db can currently serve a trivial query.
func Healthy(ctx context.Context, db *sql.DB) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(pingCtx) == nil
}

// IsSerializationFailure reports whether err is a Postgres
// serialization-failure error (SQLSTATE 40001), the conflict the audit
// chain's append transaction retries on.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	return false
}
