package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/sqlqueue/internal/platform/postgres"
	"github.com/phrazzld/sqlqueue/internal/platform/sqlite"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

var sqliteSeq atomic.Int64

// IsIntegrationTestEnvironment returns true if the DATABASE_URL environment
// variable is set, indicating that integration tests can be run.
func IsIntegrationTestEnvironment() bool {
	return len(os.Getenv("DATABASE_URL")) > 0
}

// NewSQLite opens a private in-memory SQLite database with the task log
// migrations applied and the given queue tables defined. It is closed when
// the test ends.
func NewSQLite(t *testing.T, queues ...string) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	dsn := fmt.Sprintf("file:sqlqueue_test_%d?mode=memory&cache=shared", sqliteSeq.Add(1))

	db, err := sqlite.Open(ctx, dsn)
	require.NoError(t, err, "open sqlite")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlite.Migrate(ctx, db), "migrate sqlite")
	for _, q := range queues {
		require.NoError(t, sqlite.DefineQueueSchema(ctx, db, q), "define queue %s", q)
	}
	return db
}

// NewPostgres connects to DATABASE_URL and applies the task log migrations.
// The test is skipped when DATABASE_URL is not set.
func NewPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if !IsIntegrationTestEnvironment() {
		t.Skip("DATABASE_URL not set, skipping Postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := postgres.Open(ctx, postgres.PoolConfig{URL: os.Getenv("DATABASE_URL")})
	require.NoError(t, err, "open postgres")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db), "migrate postgres")
	return db
}

// WithTx runs fn inside a transaction that is always rolled back, so tests
// against a shared database do not see each other's rows.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.Logf("rollback: %v", err)
		}
	}()

	fn(t, tx)
}
