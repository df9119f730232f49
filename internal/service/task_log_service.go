package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/events"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/store"
)

const taskLogService = "task_log"

// TaskLogService is the client-facing view of the task log.
type TaskLogService interface {
	// FindAvailableByUser returns the user's non-archived task logs, newest
	// first. A user with no tasks gets an empty collection.
	FindAvailableByUser(ctx context.Context, userID uuid.UUID) (domain.TaskLogCollection, error)

	// GetByIDAndUser returns one task log if userID owns it. A task owned by
	// someone else is reported as ErrTaskNotFound.
	GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*domain.TaskLog, error)

	// Archive hides a task log from FindAvailableByUser. An in-progress task
	// is rejected with domain.ErrArchiveInProgress unless forced. It returns
	// false, without emitting, when the task log was already archived.
	Archive(ctx context.Context, entry *domain.TaskLog, forced bool) (bool, error)

	// GetStats counts the user's non-archived task logs by status.
	GetStats(ctx context.Context, userID uuid.UUID) (domain.TaskStats, error)

	// Record returns the entry's record enriched with its category.
	Record(entry *domain.TaskLog) domain.Record

	// Records returns Record for every entry in the collection.
	Records(c domain.TaskLogCollection) []domain.Record
}

type taskLogServiceImpl struct {
	logs       store.TaskLogStore
	emitter    events.EventEmitter
	categories map[string]string
	logger     *slog.Logger
}

// NewTaskLogService creates a TaskLogService. categories maps task types to
// the category shown on their records; types without an entry get none.
// It returns an error if logs or emitter is nil.
func NewTaskLogService(
	logs store.TaskLogStore,
	emitter events.EventEmitter,
	categories map[string]string,
	logger *slog.Logger,
) (TaskLogService, error) {
	if logs == nil {
		return nil, fmt.Errorf("%w: task log store cannot be nil", domain.ErrValidation)
	}
	if emitter == nil {
		return nil, fmt.Errorf("%w: event emitter cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	copied := make(map[string]string, len(categories))
	for k, v := range categories {
		copied[k] = v
	}

	return &taskLogServiceImpl{
		logs:       logs,
		emitter:    emitter,
		categories: copied,
		logger:     logger.With(slog.String("component", "task_log_service")),
	}, nil
}

// FindAvailableByUser implements TaskLogService.
func (s *taskLogServiceImpl) FindAvailableByUser(ctx context.Context, userID uuid.UUID) (domain.TaskLogCollection, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	entries, err := s.logs.FindByUser(ctx, userID, false)
	if err != nil {
		log.Error("failed to list task logs",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, NewServiceError(taskLogService, "find_available", err)
	}

	log.Debug("listed task logs",
		slog.String("user_id", userID.String()),
		slog.Int("count", len(entries)))
	return domain.TaskLogCollection(entries), nil
}

// GetByIDAndUser implements TaskLogService.
func (s *taskLogServiceImpl) GetByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*domain.TaskLog, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	entry, err := s.logs.GetByID(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		log.Error("failed to retrieve task log",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, NewServiceError(taskLogService, "get", err)
	}

	if entry.UserID != userID {
		log.Warn("task log requested by non-owner",
			slog.String("task_id", id.String()),
			slog.String("user_id", userID.String()))
		return nil, ErrTaskNotFound
	}
	return entry, nil
}

// Archive implements TaskLogService.
func (s *taskLogServiceImpl) Archive(ctx context.Context, entry *domain.TaskLog, forced bool) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("%w: task log cannot be nil", domain.ErrValidation)
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", entry.ID.String()),
		slog.Bool("forced", forced))

	archived, err := s.logs.Archive(ctx, entry.ID, forced)
	if err != nil {
		if store.IsNotFoundError(err) {
			return false, ErrTaskNotFound
		}
		return false, err
	}
	if !archived {
		log.Debug("task log already archived")
		return false, nil
	}

	if current, err := s.logs.GetByID(ctx, entry.ID); err == nil {
		*entry = *current
	} else {
		entry.Archived = true
	}
	log.Info("archived task log", slog.String("status", string(entry.Status)))

	event, err := events.NewEvent(events.TypeTaskArchived, entry.ID, events.ArchivedPayload{
		Task:   s.Record(entry),
		Forced: forced,
	})
	if err != nil {
		log.Error("failed to build archive event", slog.String("error", err.Error()))
		return true, nil
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		log.Error("failed to emit archive event",
			slog.String("event_id", event.ID.String()),
			slog.String("error", err.Error()))
	}
	return true, nil
}

// GetStats implements TaskLogService.
func (s *taskLogServiceImpl) GetStats(ctx context.Context, userID uuid.UUID) (domain.TaskStats, error) {
	entries, err := s.FindAvailableByUser(ctx, userID)
	if err != nil {
		return domain.TaskStats{}, err
	}
	return entries.Stats(), nil
}

// Record implements TaskLogService.
func (s *taskLogServiceImpl) Record(entry *domain.TaskLog) domain.Record {
	return s.enrich(entry).ToRecord()
}

// Records implements TaskLogService.
func (s *taskLogServiceImpl) Records(c domain.TaskLogCollection) []domain.Record {
	return c.Records(s.enrich)
}

func (s *taskLogServiceImpl) enrich(entry *domain.TaskLog) domain.Recordable {
	return domain.WithCategory(entry, s.categories[entry.TaskType])
}
