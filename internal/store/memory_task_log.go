package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sqlqueue/internal/domain"
)

// MemoryTaskLogStore is an in-process TaskLogStore with the same guards as
// the SQL stores, for tests and single-process embedding.
type MemoryTaskLogStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*domain.TaskLog
	now     func() time.Time
}

// NewMemoryTaskLogStore creates an empty store.
func NewMemoryTaskLogStore() *MemoryTaskLogStore {
	return &MemoryTaskLogStore{
		entries: make(map[uuid.UUID]*domain.TaskLog),
		now:     time.Now,
	}
}

var _ TaskLogStore = (*MemoryTaskLogStore)(nil)

func clone(e *domain.TaskLog) *domain.TaskLog {
	c := *e
	return &c
}

// Create implements TaskLogStore.
func (s *MemoryTaskLogStore) Create(_ context.Context, entry *domain.TaskLog) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("%w: task log %s", ErrDuplicate, entry.ID)
	}
	s.entries[entry.ID] = clone(entry)
	return nil
}

// GetByID implements TaskLogStore.
func (s *MemoryTaskLogStore) GetByID(_ context.Context, id uuid.UUID) (*domain.TaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrTaskLogNotFound
	}
	return clone(e), nil
}

// FindByUser implements TaskLogStore.
func (s *MemoryTaskLogStore) FindByUser(_ context.Context, userID uuid.UUID, includeArchived bool) ([]*domain.TaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.TaskLog{}
	for _, e := range s.entries {
		if e.UserID != userID || (e.Archived && !includeArchived) {
			continue
		}
		out = append(out, clone(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AttachMessage implements TaskLogStore.
func (s *MemoryTaskLogStore) AttachMessage(_ context.Context, id uuid.UUID, queueName, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrTaskLogNotFound
	}
	e.QueueName = queueName
	e.MessageID = messageID
	e.UpdatedAt = s.now().UTC()
	return nil
}

// MarkStarted implements TaskLogStore.
func (s *MemoryTaskLogStore) MarkStarted(_ context.Context, id uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrTaskLogNotFound
	}
	if e.Status != domain.TaskStatusInProgress {
		return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidTransition, id, e.Status)
	}
	now := s.now().UTC()
	if e.StartedAt == nil {
		e.StartedAt = &now
	}
	if messageID != "" {
		e.MessageID = messageID
	}
	e.UpdatedAt = now
	return nil
}

// MarkCompleted implements TaskLogStore.
func (s *MemoryTaskLogStore) MarkCompleted(_ context.Context, id uuid.UUID, report json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrTaskLogNotFound
	}
	return e.Complete(report, s.now())
}

// MarkFailed implements TaskLogStore.
func (s *MemoryTaskLogStore) MarkFailed(_ context.Context, id uuid.UUID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrTaskLogNotFound
	}
	return e.Fail(errorMsg, s.now())
}

// Archive implements TaskLogStore.
func (s *MemoryTaskLogStore) Archive(_ context.Context, id uuid.UUID, forced bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, ErrTaskLogNotFound
	}
	return e.Archive(forced)
}

// FindStale implements TaskLogStore.
func (s *MemoryTaskLogStore) FindStale(_ context.Context, cutoff time.Time) ([]*domain.TaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.TaskLog{}
	for _, e := range s.entries {
		if e.IsStale(cutoff) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// WithTx implements TaskLogStore. The memory store has no transactions.
func (s *MemoryTaskLogStore) WithTx(*sql.Tx) TaskLogStore {
	return s
}
