package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/store"
)

const taskLogColumns = `id, user_id, task_type, label, queue_name, message_id, payload, status,
	report, error_message, archived, created_at, updated_at, started_at, completed_at`

// TaskLogStore implements store.TaskLogStore on SQLite.
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
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID.String(), e.TaskType, e.Label, e.QueueName, e.MessageID,
		payloadText(e.Payload), string(e.Status), nullJSON(e.Report), e.ErrorMessage,
		boolInt(e.Archived), toNanos(e.CreatedAt), toNanos(e.UpdatedAt),
		nullNanos(e.StartedAt), nullNanos(e.CompletedAt))
	return mapError("task_log", "create", err)
}

// GetByID implements store.TaskLogStore.
func (s *TaskLogStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskLogColumns+` FROM task_logs WHERE id = ?`, id.String())
	e, err := scanTaskLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskLogNotFound
	}
	if err != nil {
		return nil, mapError("task_log", "get", err)
	}
	return e, nil
}

// FindByUser implements store.TaskLogStore.
func (s *TaskLogStore) FindByUser(ctx context.Context, userID uuid.UUID, includeArchived bool) ([]*domain.TaskLog, error) {
	query := `SELECT ` + taskLogColumns + ` FROM task_logs WHERE user_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY created_at DESC, id`
	return s.query(ctx, "find by user", query, userID.String())
}

// FindStale implements store.TaskLogStore.
func (s *TaskLogStore) FindStale(ctx context.Context, cutoff time.Time) ([]*domain.TaskLog, error) {
	return s.query(ctx, "find stale", `SELECT `+taskLogColumns+` FROM task_logs
WHERE status = 'in_progress' AND updated_at < ?
ORDER BY updated_at ASC`, toNanos(cutoff))
}

// AttachMessage implements store.TaskLogStore.
func (s *TaskLogStore) AttachMessage(ctx context.Context, id uuid.UUID, queueName, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET queue_name = ?, message_id = NULLIF(?, ''), updated_at = ?
WHERE id = ?`, queueName, messageID, toNanos(s.now()), id.String())
	if err != nil {
		return mapError("task_log", "attach message", err)
	}
	return s.checkUpdated(ctx, res, id, "attach message")
}

// MarkStarted implements store.TaskLogStore.
func (s *TaskLogStore) MarkStarted(ctx context.Context, id uuid.UUID, messageID string) error {
	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET started_at = COALESCE(started_at, ?), message_id = COALESCE(NULLIF(?, ''), message_id), updated_at = ?
WHERE id = ? AND status = 'in_progress'`, now, messageID, now, id.String())
	if err != nil {
		return mapError("task_log", "mark started", err)
	}
	return s.checkUpdated(ctx, res, id, "mark started")
}

// MarkCompleted implements store.TaskLogStore.
func (s *TaskLogStore) MarkCompleted(ctx context.Context, id uuid.UUID, report json.RawMessage) error {
	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET status = 'completed', report = ?, updated_at = ?, completed_at = ?
WHERE id = ? AND status = 'in_progress'`, nullJSON(report), now, now, id.String())
	if err != nil {
		return mapError("task_log", "mark completed", err)
	}
	return s.checkUpdated(ctx, res, id, "mark completed")
}

// MarkFailed implements store.TaskLogStore.
func (s *TaskLogStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
WHERE id = ? AND status = 'in_progress'`, errorMsg, now, now, id.String())
	if err != nil {
		return mapError("task_log", "mark failed", err)
	}
	return s.checkUpdated(ctx, res, id, "mark failed")
}

// Archive implements store.TaskLogStore.
func (s *TaskLogStore) Archive(ctx context.Context, id uuid.UUID, forced bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE task_logs
SET archived = 1, updated_at = ?
WHERE id = ? AND archived = 0 AND (? = 1 OR status <> 'in_progress')`,
		toNanos(s.now()), id.String(), boolInt(forced))
	if err != nil {
		return false, mapError("task_log", "archive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("task_log", "archive", err)
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
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("task_log", op, err)
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s on task %s in status %s", store.ErrInvalidTransition, op, id, current.Status)
}

func (s *TaskLogStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("task_log", op, err)
	}
	defer func() { _ = rows.Close() }()

	out := []*domain.TaskLog{}
	for rows.Next() {
		e, err := scanTaskLog(rows)
		if err != nil {
			return nil, mapError("task_log", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("task_log", op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTaskLog(row scanner) (*domain.TaskLog, error) {
	var (
		e                      domain.TaskLog
		id, userID, status     string
		messageID, report, msg sql.NullString
		payload                string
		archived               int
		created, updated       int64
		started, completed     sql.NullInt64
	)
	if err := row.Scan(&id, &userID, &e.TaskType, &e.Label, &e.QueueName, &messageID, &payload,
		&status, &report, &msg, &archived, &created, &updated, &started, &completed); err != nil {
		return nil, err
	}

	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse task log id: %w", err)
	}
	if e.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse task log user id: %w", err)
	}
	e.Status = domain.TaskStatus(status)
	e.MessageID = messageID.String
	e.Payload = json.RawMessage(payload)
	if report.Valid {
		e.Report = json.RawMessage(report.String)
	}
	e.ErrorMessage = msg.String
	e.Archived = archived == 1
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	e.StartedAt = timePtr(started)
	e.CompletedAt = timePtr(completed)
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
