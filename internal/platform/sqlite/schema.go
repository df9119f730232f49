package sqlite

import (
	"context"
	"fmt"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// DefineQueueSchema creates the storage table and index for a queue. It is
// idempotent and leaves existing rows untouched.
func DefineQueueSchema(ctx context.Context, db store.DBTX, name string) error {
	if err := queue.ValidateName(name); err != nil {
		return err
	}
	table := queue.TableName(name)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL PRIMARY KEY,
	message TEXT NOT NULL,
	visible INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON %s (created_at, visible)`, queue.IndexName(name), table),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return store.NewStoreError(table, "define schema", err)
		}
	}
	return nil
}
