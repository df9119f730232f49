package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
	"github.com/phrazzld/sqlqueue/internal/store/storetest"
	"github.com/phrazzld/sqlqueue/internal/task"
)

func TestWorker_RunStopsAtLimit(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	p := f.producer()

	userID := uuid.New()
	var submitted []*domain.TaskLog
	for _, label := range []string{"P1", "P2", "P3"} {
		d := newDescriptor(typeEcho, label)
		d.UserID = userID
		entry, err := p.Submit(ctx, d)
		require.NoError(t, err)
		submitted = append(submitted, entry)
	}

	rep, err := f.worker().Run(ctx, "default", 2)
	require.NoError(t, err)

	assert.Equal(t, task.StatusSuccess, rep.Status)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 2, rep.Count(task.OutcomeCompleted))
	assert.Equal(t, submitted[0].ID.String(), rep.Lines[0].TaskID)
	assert.Equal(t, submitted[1].ID.String(), rep.Lines[1].TaskID)

	visible, err := f.broker.Count(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)
	leased, err := f.broker.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, leased)

	msgs, err := f.broker.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	d, err := task.DecodeDescriptor(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "P3", d.Label)

	entries, err := f.logs.FindByUser(ctx, userID, false)
	require.NoError(t, err)
	stats := domain.TaskLogCollection(entries).Stats()
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.InProgress)

	done, err := f.logs.GetByID(ctx, submitted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.JSONEq(t, `{"label":"P1"}`, string(done.Report))
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestWorker_RunRecordsFailureAndContinues(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	failing := newDescriptor(typeFail, "bad")
	panicking := newDescriptor(typePanic, "worse")
	ok := newDescriptor(typeEcho, "good")
	for _, d := range []task.Descriptor{failing, panicking, ok} {
		enqueueRaw(t, f.broker, d)
	}

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(ctx, "default", 10)
	require.NoError(t, err)

	assert.Equal(t, task.StatusPartial, rep.Status)
	require.Len(t, rep.Lines, 3)
	assert.Equal(t, task.OutcomeFailed, rep.Lines[0].Outcome)
	assert.Equal(t, task.OutcomeFailed, rep.Lines[1].Outcome)
	assert.Equal(t, task.OutcomeCompleted, rep.Lines[2].Outcome)
	assert.Contains(t, rep.Lines[1].Detail, "panic: boom")

	// Failures are consumed, not retried.
	for _, visible := range []bool{true, false} {
		n, err := f.broker.Count(ctx, visible)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	entry, err := f.logs.GetByID(ctx, failing.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, entry.Status)
	assert.Equal(t, "default", entry.QueueName)
	assert.Contains(t, entry.ErrorMessage, "upstream rejected request")
	assert.NotContains(t, entry.ErrorMessage, "hunter2")
	assert.NotContains(t, rep.Lines[0].Detail, "hunter2")

	entry, err = f.logs.GetByID(ctx, panicking.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, task.ErrExecution.Error())
}

func TestWorker_PersistenceErrorLeavesMessageLeased(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	broken := newDescriptor(typeEcho, "broken")
	healthy := newDescriptor(typeEcho, "healthy")
	brokenMsg := enqueueRaw(t, f.broker, broken)
	enqueueRaw(t, f.broker, healthy)

	logs := &storetest.FaultyTaskLogStore{
		TaskLogStore: f.logs,
		MarkStartedFn: func(_ context.Context, id uuid.UUID, _ string) error {
			if id == broken.TaskID {
				return store.NewStoreError("task_log", "mark started", errors.New("disk full"))
			}
			return nil
		},
	}
	log, _ := logger.NewTestLogger()
	w := task.NewWorker(f.dispatcher, logs, f.registry, task.DefaultWorkerConfig(), log)

	rep, err := w.Run(ctx, "default", 10)
	require.NoError(t, err)

	assert.Equal(t, task.StatusPartial, rep.Status)
	require.Len(t, rep.Lines, 2)
	assert.Equal(t, task.OutcomeError, rep.Lines[0].Outcome)
	assert.Contains(t, rep.Lines[0].Detail, "disk full")
	assert.Equal(t, task.OutcomeCompleted, rep.Lines[1].Outcome)

	msg, err := f.broker.Lookup(ctx, brokenMsg)
	require.NoError(t, err)
	assert.Equal(t, queue.StateLeased, queue.StateOf(msg))
	assert.Zero(t, f.runs.count(broken.TaskID))

	entry, err := f.logs.GetByID(ctx, broken.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, entry.Status)
}

func TestWorker_RunFailsFastOnBadQueue(t *testing.T) {
	f := newMemoryFixture(t)
	w := f.worker(task.DefaultWorkerConfig())
	enqueueRaw(t, f.broker, newDescriptor(typeEcho, "untouched"))

	tests := []struct {
		name    string
		queue   string
		limit   int
		wantErr error
	}{
		{"unknown queue", "missing", 5, queue.ErrUnknownQueue},
		{"sync queue", "inline", 5, queue.ErrSyncQueue},
		{"zero limit", "default", 0, queue.ErrConfiguration},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep, err := w.Run(context.Background(), tc.queue, tc.limit)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, queue.ErrConfiguration)
			assert.Equal(t, task.StatusFailure, rep.Status)
			assert.Empty(t, rep.Lines)
			assert.NotEmpty(t, rep.Error)
		})
	}

	visible, err := f.broker.Count(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)
}

func TestWorker_RunNothingToDo(t *testing.T) {
	f := newMemoryFixture(t)

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(context.Background(), "default", 5)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNothingToDo, rep.Status)
	assert.Zero(t, rep.Processed)
	assert.NotNil(t, rep.Lines)
}

func TestWorker_RunCancelledBeforeStart(t *testing.T) {
	f := newMemoryFixture(t)
	enqueueRaw(t, f.broker, newDescriptor(typeEcho, "later"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(ctx, "default", 5)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNothingToDo, rep.Status)

	visible, err := f.broker.Count(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)
}

func TestWorker_SkipsRedeliveredFinishedTask(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	d := newDescriptor(typeEcho, "again")
	payload, err := d.Encode()
	require.NoError(t, err)
	entry, err := domain.NewTaskLog(d.TaskID, d.UserID, d.Type, d.Label, payload)
	require.NoError(t, err)
	require.NoError(t, f.logs.Create(ctx, entry))
	require.NoError(t, f.logs.MarkCompleted(ctx, d.TaskID, []byte(`{"first":true}`)))
	msgID := enqueueRaw(t, f.broker, d)

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(ctx, "default", 5)
	require.NoError(t, err)

	require.Len(t, rep.Lines, 1)
	assert.Equal(t, task.OutcomeSkipped, rep.Lines[0].Outcome)
	assert.Equal(t, task.StatusSuccess, rep.Status)
	assert.Zero(t, f.runs.count(d.TaskID))

	_, err = f.broker.Lookup(ctx, msgID)
	assert.ErrorIs(t, err, queue.ErrMessageNotFound)

	got, err := f.logs.GetByID(ctx, d.TaskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":true}`, string(got.Report))
}

func TestWorker_DropsUndecodableMessage(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	msgID, err := f.broker.Enqueue(ctx, []byte("not a descriptor"))
	require.NoError(t, err)

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(ctx, "default", 5)
	require.NoError(t, err)

	require.Len(t, rep.Lines, 1)
	assert.Equal(t, task.OutcomeFailed, rep.Lines[0].Outcome)
	assert.Empty(t, rep.Lines[0].TaskID)
	assert.Equal(t, task.StatusFailure, rep.Status)

	_, err = f.broker.Lookup(ctx, msgID)
	assert.ErrorIs(t, err, queue.ErrMessageNotFound)
}

func TestWorker_ConcurrentBatchRunsEachTaskOnce(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 12; i++ {
		d := newDescriptor(typeEcho, "batch")
		ids = append(ids, d.TaskID)
		enqueueRaw(t, f.broker, d)
	}

	w := f.worker(task.WorkerConfig{Concurrency: 4, DequeueBatch: 5})
	rep, err := w.Run(ctx, "default", 12)
	require.NoError(t, err)

	assert.Equal(t, task.StatusSuccess, rep.Status)
	assert.Equal(t, 12, rep.Count(task.OutcomeCompleted))
	for _, id := range ids {
		assert.Equal(t, 1, f.runs.count(id))
	}
	assert.Equal(t, 12, f.runs.total())
}

func TestWorker_RunAllSharesLimitAcrossQueues(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	enqueueRaw(t, f.broker, newDescriptor(typeEcho, "d1"))
	enqueueRaw(t, f.broker, newDescriptor(typeEcho, "d2"))
	enqueueRaw(t, f.reports, newDescriptor(typeEcho, "r1"))
	enqueueRaw(t, f.reports, newDescriptor(typeEcho, "r2"))

	w := f.worker(task.DefaultWorkerConfig())
	rep, err := w.RunAll(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, task.StatusSuccess, rep.Status)
	assert.Equal(t, []string{"default", "reports"}, rep.Queues)
	require.Len(t, rep.Lines, 3)
	assert.Equal(t, "default", rep.Lines[0].Queue)
	assert.Equal(t, "default", rep.Lines[1].Queue)
	assert.Equal(t, "reports", rep.Lines[2].Queue)

	visible, err := f.reports.Count(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)

	rep, err = w.RunAll(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)

	rep, err = w.RunAll(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNothingToDo, rep.Status)
}

func TestWorker_RunAllWithoutAsyncQueues(t *testing.T) {
	d := queue.NewDispatcher("inline")
	require.NoError(t, d.Register("inline", nil, true))
	registry, err := task.NewRegistry()
	require.NoError(t, err)

	w := task.NewWorker(d, store.NewMemoryTaskLogStore(), registry, task.DefaultWorkerConfig(), nil)
	rep, err := w.RunAll(context.Background(), 5)
	assert.ErrorIs(t, err, queue.ErrConfiguration)
	assert.Equal(t, task.StatusFailure, rep.Status)
}

func TestReport_String(t *testing.T) {
	f := newMemoryFixture(t)
	enqueueRaw(t, f.broker, newDescriptor(typeEcho, "one"))

	rep, err := f.worker(task.DefaultWorkerConfig()).Run(context.Background(), "default", 1)
	require.NoError(t, err)

	s := rep.String()
	assert.Contains(t, s, "success: 1 processed")
	assert.Contains(t, s, "completed default/")
	assert.Contains(t, s, typeEcho)
}
