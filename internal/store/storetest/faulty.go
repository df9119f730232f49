// Package storetest provides test doubles for store.TaskLogStore.
package storetest

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// FaultyTaskLogStore wraps a TaskLogStore and lets a test fail selected
// calls. A hook returning nil passes the call through.
type FaultyTaskLogStore struct {
	store.TaskLogStore

	CreateFn      func(ctx context.Context, entry *domain.TaskLog) error
	MarkStartedFn func(ctx context.Context, id uuid.UUID, messageID string) error
}

var _ store.TaskLogStore = (*FaultyTaskLogStore)(nil)

// Create implements store.TaskLogStore.
func (f *FaultyTaskLogStore) Create(ctx context.Context, entry *domain.TaskLog) error {
	if f.CreateFn != nil {
		if err := f.CreateFn(ctx, entry); err != nil {
			return err
		}
	}
	return f.TaskLogStore.Create(ctx, entry)
}

// MarkStarted implements store.TaskLogStore.
func (f *FaultyTaskLogStore) MarkStarted(ctx context.Context, id uuid.UUID, messageID string) error {
	if f.MarkStartedFn != nil {
		if err := f.MarkStartedFn(ctx, id, messageID); err != nil {
			return err
		}
	}
	return f.TaskLogStore.MarkStarted(ctx, id, messageID)
}

// WithTx keeps the hooks on the transactional store.
func (f *FaultyTaskLogStore) WithTx(tx *sql.Tx) store.TaskLogStore {
	return &FaultyTaskLogStore{
		TaskLogStore:  f.TaskLogStore.WithTx(tx),
		CreateFn:      f.CreateFn,
		MarkStartedFn: f.MarkStartedFn,
	}
}
