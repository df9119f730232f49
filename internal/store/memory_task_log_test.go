package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// age sets updated_at directly.
func age(s *MemoryTaskLogStore, id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id].UpdatedAt = at.UTC()
}

func newEntry(t *testing.T, userID uuid.UUID) *domain.TaskLog {
	t.Helper()
	e, err := domain.NewTaskLog(uuid.New(), userID, "http_callback", "ping", []byte(`{}`))
	require.NoError(t, err)
	return e
}

func TestMemoryTaskLogStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskLogStore()
	e := newEntry(t, uuid.New())

	require.NoError(t, s.Create(ctx, e))
	assert.ErrorIs(t, s.Create(ctx, e), ErrDuplicate)

	require.NoError(t, s.AttachMessage(ctx, e.ID, "default", "m-1"))
	require.NoError(t, s.MarkStarted(ctx, e.ID, "m-1"))
	require.NoError(t, s.MarkCompleted(ctx, e.ID, json.RawMessage(`{"ok":true}`)))

	got, err := s.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "default", got.QueueName)
	assert.Equal(t, "m-1", got.MessageID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"ok":true}`, string(got.Report))

	// terminal status never moves again
	assert.ErrorIs(t, s.MarkFailed(ctx, e.ID, "late"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkStarted(ctx, e.ID, "m-2"), domain.ErrInvalidTransition)
	got, err = s.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestMemoryTaskLogStore_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskLogStore()
	id := uuid.New()

	_, err := s.GetByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, id, "x"), ErrNotFound)
	_, err = s.Archive(ctx, id, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTaskLogStore_Archive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskLogStore()
	user := uuid.New()
	e := newEntry(t, user)
	require.NoError(t, s.Create(ctx, e))

	_, err := s.Archive(ctx, e.ID, false)
	assert.ErrorIs(t, err, domain.ErrArchiveInProgress)

	ok, err := s.Archive(ctx, e.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Archive(ctx, e.ID, true)
	require.NoError(t, err)
	assert.False(t, ok)

	visible, err := s.FindByUser(ctx, user, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := s.FindByUser(ctx, user, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryTaskLogStore_FindStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskLogStore()
	user := uuid.New()

	old := newEntry(t, user)
	hidden := newEntry(t, user)
	fresh := newEntry(t, user)
	done := newEntry(t, user)
	for _, e := range []*domain.TaskLog{old, hidden, fresh, done} {
		require.NoError(t, s.Create(ctx, e))
	}
	require.NoError(t, s.MarkFailed(ctx, done.ID, "boom"))
	_, err := s.Archive(ctx, hidden.ID, true)
	require.NoError(t, err)

	age(s, old.ID, time.Now().Add(-2*time.Hour))
	age(s, hidden.ID, time.Now().Add(-time.Hour))
	age(s, done.ID, time.Now().Add(-time.Hour))

	stale, err := s.FindStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.Equal(t, hidden.ID, stale[1].ID, "force-archived in-progress entries are still stale")
}

func TestMemoryTaskLogStore_FindByUserOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskLogStore()
	user := uuid.New()

	first := newEntry(t, user)
	second := newEntry(t, user)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, second))
	require.NoError(t, s.Create(ctx, newEntry(t, uuid.New())))

	got, err := s.FindByUser(ctx, user, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}
