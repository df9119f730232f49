package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

func newMockBroker(t *testing.T) (*Broker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := NewBroker(db, "jobs")
	require.NoError(t, err)
	return b, mock
}

func TestBroker_DequeueUsesSkipLocked(t *testing.T) {
	t.Parallel()
	b, mock := newMockBroker(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "message", "created_at", "seq"}).
		AddRow("c", "third", base.Add(time.Second), int64(1)).
		AddRow("b", "second", base, int64(7)).
		AddRow("a", "first", base, int64(6))
	mock.ExpectQuery(`UPDATE queue_jobs SET visible = FALSE\s+WHERE visible = TRUE AND id IN \(\s+SELECT id FROM queue_jobs.*ORDER BY created_at ASC, seq ASC.*FOR UPDATE SKIP LOCKED`).
		WithArgs(3).
		WillReturnRows(rows)

	msgs, err := b.Dequeue(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID, "sorted oldest first, seq breaking ties")
	assert.Equal(t, []byte("first"), msgs[0].Payload)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroker_DequeueNonPositiveMax(t *testing.T) {
	t.Parallel()
	b, mock := newMockBroker(t)

	msgs, err := b.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroker_RequeueMissing(t *testing.T) {
	t.Parallel()
	b, mock := newMockBroker(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE queue_jobs SET visible = TRUE WHERE id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := b.Requeue(context.Background(), "gone")
	assert.ErrorIs(t, err, queue.ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroker_EnqueueFailureIsPersistenceError(t *testing.T) {
	t.Parallel()
	b, mock := newMockBroker(t)

	mock.ExpectExec(`INSERT INTO queue_jobs`).WillReturnError(errors.New("connection reset"))

	_, err := b.Enqueue(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBroker_LookupMissing(t *testing.T) {
	t.Parallel()
	b, mock := newMockBroker(t)

	mock.ExpectQuery(`SELECT id, message, visible, created_at FROM queue_jobs`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message", "visible", "created_at"}))

	_, err := b.Lookup(context.Background(), "gone")
	assert.ErrorIs(t, err, queue.ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefineQueueSchema_Statements(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS queue_jobs \(.*seq BIGSERIAL NOT NULL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE queue_jobs ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "IDX_created_at_visible_jobs" ON queue_jobs (created_at, visible)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, DefineQueueSchema(context.Background(), db, "jobs"))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, DefineQueueSchema(context.Background(), db, ""), queue.ErrConfiguration)
}
