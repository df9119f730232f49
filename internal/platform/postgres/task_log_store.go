package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/store"
)

const taskLogColumns = `id, user_id, task_type, label, queue_name, message_id, payload, status,
	report, error_message, archived, created_at, updated_at, started_at, completed_at`

// TaskLogStore implements store.TaskLogStore on PostgreSQL.
type TaskLogStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ store.TaskLogStore = (*TaskLogStore)(nil)

// NewTaskLogStore creates a TaskLogStore on db.
func NewTaskLogStore(db store.DBTX) *TaskLogStore {
	return &TaskLogStore{db: db, now: time.Now}
}

// WithTx implements store.TaskLogStore.
func (s *TaskLogStore) WithTx(tx *sql.Tx) store.TaskLogStore {
	return &TaskLogStore{db: tx, now: s.now}
}

// Create implements store.TaskLogStore.
func (s *TaskLogStore) Create(ctx context.Context, e *domain.TaskLog) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_logs (`+taskLogColumns+`)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $15)`,
		e.ID, e.UserID, e.TaskType, e.Label, e.QueueName, e.MessageID,
		payloadText(e.Payload), string(e.Status), nullJSON(e.Report), e.ErrorMessage,
		e.Archived, e.CreatedAt.UTC(), e.UpdatedAt.UTC(), e.StartedAt, e.CompletedAt)
	if err != nil {
		logger.FromContext(ctx).Error("failed to create task log",
			slog.String("task_id", e.ID.String()),
			slog.String("task_type", e.TaskType),
			slog.String("error", err.Error()))
		return MapError("task_log", "create", err)
	}
	return nil
}

// GetByID implements store.TaskLogStore.
func (s *TaskLogStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskLogColumns+` FROM task_logs WHERE id = $1`, id)
	e, err := scanTaskLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskLogNotFound
	}
	if err != nil {
		return nil, MapError("task_log", "get", err)
	}
	return e, nil
}

// FindByUser implements store.TaskLogStore.
func (s *TaskLogStore) FindByUser(ctx context.Context, userID uuid.UUID, includeArchived bool) ([]*domain.TaskLog, error) {
	return s.query(ctx, "find by user", `SELECT `+taskLogColumns+` FROM task_logs
WHERE user_id = $1 AND ($2 OR archived = FALSE)
ORDER BY created_at DESC, id`, userID, includeArchived)
}

// FindStale implements store.TaskLogStore.
func (s *TaskLogStore) FindStale(ctx context.Context, cutoff time.Time) ([]*domain.TaskLog, error) {
	return s.query(ctx, "find stale", `SELECT `+taskLogColumns+` FROM task_logs
WHERE status = 'in_progress' AND updated_at < $1
ORDER BY updated_at ASC`, cutoff.UTC())
}

// AttachMessage implements store.TaskLogStore.
func (s *TaskLogStore) AttachMessage(ctx context.Context, id uuid.UUID, queueName, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET queue_name = $1, message_id = NULLIF($2, ''), updated_at = $3
WHERE id = $4`, queueName, messageID, s.now().UTC(), id)
	if err != nil {
		return MapError("task_log", "attach message", err)
	}
	return s.checkUpdated(ctx, res, id, "attach message")
}

// MarkStarted implements store.TaskLogStore.
func (s *TaskLogStore) MarkStarted(ctx context.Context, id uuid.UUID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET started_at = COALESCE(started_at, $1), message_id = COALESCE(NULLIF($2, ''), message_id), updated_at = $1
WHERE id = $3 AND status = 'in_progress'`, s.now().UTC(), messageID, id)
	if err != nil {
		return MapError("task_log", "mark started", err)
	}
	return s.checkUpdated(ctx, res, id, "mark started")
}

// MarkCompleted implements store.TaskLogStore.
func (s *TaskLogStore) MarkCompleted(ctx context.Context, id uuid.UUID, report json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET status = 'completed', report = $1, updated_at = $2, completed_at = $2
WHERE id = $3 AND status = 'in_progress'`, nullJSON(report), s.now().UTC(), id)
	if err != nil {
		return MapError("task_log", "mark completed", err)
	}
	return s.checkUpdated(ctx, res, id, "mark completed")
}

// MarkFailed implements store.TaskLogStore.
func (s *TaskLogStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET status = 'failed', error_message = $1, updated_at = $2, completed_at = $2
WHERE id = $3 AND status = 'in_progress'`, errorMsg, s.now().UTC(), id)
	if err != nil {
		return MapError("task_log", "mark failed", err)
	}
	return s.checkUpdated(ctx, res, id, "mark failed")
}

// Archive implements store.TaskLogStore.
func (s *TaskLogStore) Archive(ctx context.Context, id uuid.UUID, forced bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET archived = TRUE, updated_at = $1
WHERE id = $2 AND archived = FALSE AND ($3 OR status <> 'in_progress')`, s.now().UTC(), id, forced)
	if err != nil {
		return false, MapError("task_log", "archive", err)
	}
	n, err := rowsAffected(res, "task_log", "archive")
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Archived {
		return false, nil
	}
	return false, domain.ErrArchiveInProgress
}

// checkUpdated turns a zero-row guarded update into NotFound or a rejected
// transition, depending on whether the row exists.
func (s *TaskLogStore) checkUpdated(ctx context.Context, res sql.Result, id uuid.UUID, op string) error {
	n, err := rowsAffected(res, "task_log", op)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Warn("rejected task log status write",
		slog.String("task_id", id.String()),
		slog.String("operation", op),
		slog.String("status", string(current.Status)))
	return fmt.Errorf("%w: %s on task %s in status %s", store.ErrInvalidTransition, op, id, current.Status)
}

func (s *TaskLogStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError("task_log", op, err)
	}
	defer func() { _ = rows.Close() }()

	out := []*domain.TaskLog{}
	for rows.Next() {
		e, err := scanTaskLog(rows)
		if err != nil {
			return nil, MapError("task_log", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("task_log", op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTaskLog(row scanner) (*domain.TaskLog, error) {
	var (
		e                      domain.TaskLog
		status, payload        string
		messageID, report, msg sql.NullString
		started, completed     sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.TaskType, &e.Label, &e.QueueName, &messageID, &payload,
		&status, &report, &msg, &e.Archived, &e.CreatedAt, &e.UpdatedAt, &started, &completed); err != nil {
		return nil, err
	}

	e.Status = domain.TaskStatus(status)
	e.MessageID = messageID.String
	e.Payload = json.RawMessage(payload)
	if report.Valid {
		e.Report = json.RawMessage(report.String)
	}
	e.ErrorMessage = msg.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if started.Valid {
		t := started.Time.UTC()
		e.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		e.CompletedAt = &t
	}
	return &e, nil
}

func payloadText(p json.RawMessage) string {
	if len(p) == 0 {
		return "{}"
	}
	return string(p)
}

func nullJSON(p json.RawMessage) sql.NullString {
	if len(p) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}
