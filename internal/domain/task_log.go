package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task log entry
type TaskStatus string

// Possible task status values
const (
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for TaskLog
var (
	ErrEmptyTaskLogID     = errors.New("task log ID cannot be empty")
	ErrEmptyTaskLogUserID = errors.New("task log user ID cannot be empty")
	ErrEmptyTaskType      = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
)

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether a task log may move from one status to another.
// Only in_progress -> completed and in_progress -> failed are permitted.
func CanTransition(from, to TaskStatus) bool {
	return from == TaskStatusInProgress && to.IsTerminal()
}

// TaskLog is the durable record of one task instance: who owns it, where it
// was queued, how far it got, and what it produced. It is never deleted, only
// archived.
type TaskLog struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	TaskType     string          `json:"task_type"`
	Label        string          `json:"label"`
	QueueName    string          `json:"queue_name"`
	MessageID    string          `json:"message_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       TaskStatus      `json:"status"`
	Report       json.RawMessage `json:"report,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Archived     bool            `json:"archived"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewTaskLog creates an in-progress task log entry for the given task.
// Returns an error if validation fails.
func NewTaskLog(id, userID uuid.UUID, taskType, label string, payload []byte) (*TaskLog, error) {
	now := time.Now().UTC()
	entry := &TaskLog{
		ID:        id,
		UserID:    userID,
		TaskType:  taskType,
		Label:     label,
		Payload:   payload,
		Status:    TaskStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the TaskLog has valid data.
func (t *TaskLog) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskLogID
	}

	if t.UserID == uuid.Nil {
		return ErrEmptyTaskLogUserID
	}

	if t.TaskType == "" {
		return ErrEmptyTaskType
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	return nil
}

// Complete moves the entry to completed and attaches the task's report.
func (t *TaskLog) Complete(report json.RawMessage, at time.Time) error {
	if err := t.transition(TaskStatusCompleted, at); err != nil {
		return err
	}
	t.Report = report
	return nil
}

// Fail moves the entry to failed and records the failure detail.
func (t *TaskLog) Fail(detail string, at time.Time) error {
	if err := t.transition(TaskStatusFailed, at); err != nil {
		return err
	}
	t.ErrorMessage = detail
	return nil
}

func (t *TaskLog) transition(to TaskStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	at = at.UTC()
	t.Status = to
	t.UpdatedAt = at
	t.CompletedAt = &at
	return nil
}

// Archive sets the archived flag. A non-terminal entry can only be archived
// when forced. It returns false when the entry was already archived.
func (t *TaskLog) Archive(forced bool) (bool, error) {
	if t.Archived {
		return false, nil
	}
	if !t.Status.IsTerminal() && !forced {
		return false, ErrArchiveInProgress
	}
	t.Archived = true
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// IsStale reports whether an in-progress entry has not been touched since
// cutoff. Archived entries are included: archiving hides an entry from its
// owner, not from recovery.
func (t *TaskLog) IsStale(cutoff time.Time) bool {
	return t.Status == TaskStatusInProgress && t.UpdatedAt.Before(cutoff)
}

// ToRecord implements Recordable.
func (t *TaskLog) ToRecord() Record {
	rec := Record{
		"id":         t.ID.String(),
		"user_id":    t.UserID.String(),
		"task_type":  t.TaskType,
		"label":      t.Label,
		"queue_name": t.QueueName,
		"status":     string(t.Status),
		"archived":   t.Archived,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.MessageID != "" {
		rec["message_id"] = t.MessageID
	}
	if len(t.Report) > 0 {
		rec["report"] = t.Report
	}
	if t.ErrorMessage != "" {
		rec["error_message"] = t.ErrorMessage
	}
	if t.StartedAt != nil {
		rec["started_at"] = *t.StartedAt
	}
	if t.CompletedAt != nil {
		rec["completed_at"] = *t.CompletedAt
	}
	return rec
}
