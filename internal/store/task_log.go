package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sqlqueue/internal/domain"
)

// TaskLogStore defines the interface for task log persistence.
// Status writes are guarded: a write that would move a task log out of
// in_progress twice, or backwards, is rejected with domain.ErrInvalidTransition
// and leaves the stored row untouched.
type TaskLogStore interface {
	// Create saves a new task log.
	// Returns ErrDuplicate if the id is already taken.
	Create(ctx context.Context, entry *domain.TaskLog) error

	// GetByID retrieves a task log by id.
	// Returns ErrTaskLogNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskLog, error)

	// FindByUser returns a user's task logs, newest first.
	// Returns an empty slice if the user has none.
	FindByUser(ctx context.Context, userID uuid.UUID, includeArchived bool) ([]*domain.TaskLog, error)

	// AttachMessage records where the task was queued.
	AttachMessage(ctx context.Context, id uuid.UUID, queueName, messageID string) error

	// MarkStarted records that a worker leased the task's message. It touches
	// updated_at and sets started_at once. Only valid while in progress.
	MarkStarted(ctx context.Context, id uuid.UUID, messageID string) error

	// MarkCompleted moves an in-progress task log to completed.
	MarkCompleted(ctx context.Context, id uuid.UUID, report json.RawMessage) error

	// MarkFailed moves an in-progress task log to failed.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error

	// Archive sets the archived flag. Unless forced, an in-progress task log
	// is rejected with domain.ErrArchiveInProgress. Returns false when the
	// task log was already archived.
	Archive(ctx context.Context, id uuid.UUID, forced bool) (bool, error)

	// FindStale returns in-progress task logs last updated before cutoff,
	// oldest first, whether or not they are archived.
	FindStale(ctx context.Context, cutoff time.Time) ([]*domain.TaskLog, error)

	// WithTx returns a TaskLogStore that runs its statements on tx.
	WithTx(tx *sql.Tx) TaskLogStore
}
