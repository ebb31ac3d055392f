package database_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// testDB gives the transaction-atomicity tests below a real database
// to run against without requiring a live Postgres instance; the audit
// chain's own tests drive its Postgres-dialect SQL and SERIALIZABLE
// retry path against go-sqlmock instead.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransaction_RollbackLeavesNoTrace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE audit_probe (id TEXT PRIMARY KEY, payload TEXT NOT NULL)`)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_probe (id, payload) VALUES (?, ?)`, "killed", "should-not-exist")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_probe WHERE id = 'killed'`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestTransaction_CommittedDataSurvives(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE audit_probe (id TEXT PRIMARY KEY, payload TEXT NOT NULL)`)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_probe (id, payload) VALUES (?, ?)`, "durable", "must-survive")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var payload string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT payload FROM audit_probe WHERE id = 'durable'`).Scan(&payload))
	require.Equal(t, "must-survive", payload)
}

func TestTransaction_UniqueConstraintHoldsUnderConcurrentWriters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE audit_probe (id TEXT PRIMARY KEY, payload TEXT NOT NULL)`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.ExecContext(ctx, `INSERT INTO audit_probe (id, payload) VALUES (?, ?)`, "race", "x")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
}
