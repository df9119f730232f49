package postgres

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
	visible BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	seq BIGSERIAL NOT NULL
)`, table),
		// tables defined before seq existed; seq breaks created_at ties
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`, table),
		// quoted so the mixed-case name survives identifier folding
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON %s (created_at, visible)`, queue.IndexName(name), table),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return MapError(table, "define schema", err)
		}
	}
	return nil
}
