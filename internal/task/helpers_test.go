package task_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/platform/sqlite"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
	"github.com/phrazzld/sqlqueue/internal/task"
	testdb "github.com/phrazzld/sqlqueue/internal/testutils/db"
)

const (
	typeEcho  = "echo"
	typeFail  = "fail"
	typePanic = "panic"
)

// executions counts how often each task id ran.
type executions struct {
	mu   sync.Mutex
	runs map[uuid.UUID]int
}

func (e *executions) add(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[id]++
}

func (e *executions) count(id uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

func (e *executions) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.runs {
		n += c
	}
	return n
}

func newRegistry(t *testing.T, runs *executions) *task.Registry {
	t.Helper()
	registry, err := task.NewRegistry(
		task.NewTask(typeEcho, func(_ context.Context, d task.Descriptor) (json.RawMessage, error) {
			runs.add(d.TaskID)
			return json.RawMessage(`{"label":"` + d.Label + `"}`), nil
		}),
		task.NewTask(typeFail, func(_ context.Context, d task.Descriptor) (json.RawMessage, error) {
			runs.add(d.TaskID)
			return nil, errors.New("upstream rejected request with password=hunter2")
		}),
		task.NewTask(typePanic, func(_ context.Context, d task.Descriptor) (json.RawMessage, error) {
			runs.add(d.TaskID)
			panic("boom")
		}),
	)
	require.NoError(t, err)
	return registry
}

// memoryFixture wires the worker's collaborators over in-memory backends:
// async "default" and "reports" queues plus a sync "inline" queue.
type memoryFixture struct {
	dispatcher *queue.Dispatcher
	broker     *queue.MemoryBroker
	reports    *queue.MemoryBroker
	logs       *store.MemoryTaskLogStore
	registry   *task.Registry
	runs       *executions
}

func newMemoryFixture(t *testing.T) *memoryFixture {
	t.Helper()
	f := &memoryFixture{
		dispatcher: queue.NewDispatcher("default"),
		logs:       store.NewMemoryTaskLogStore(),
		runs:       &executions{runs: make(map[uuid.UUID]int)},
	}

	var err error
	f.broker, err = queue.NewMemoryBroker("default")
	require.NoError(t, err)
	f.reports, err = queue.NewMemoryBroker("reports")
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Register("default", f.broker, false))
	require.NoError(t, f.dispatcher.Register("reports", f.reports, false))
	require.NoError(t, f.dispatcher.Register("inline", nil, true))

	f.registry = newRegistry(t, f.runs)
	return f
}

func (f *memoryFixture) worker(cfg task.WorkerConfig) *task.Worker {
	log, _ := logger.NewTestLogger()
	return task.NewWorker(f.dispatcher, f.logs, f.registry, cfg, log)
}

func newDescriptor(taskType, label string) task.Descriptor {
	return task.Descriptor{
		TaskID: uuid.New(),
		Type:   taskType,
		UserID: uuid.New(),
		Label:  label,
	}
}

// enqueueRaw puts a descriptor straight on a broker, without a task log.
func enqueueRaw(t *testing.T, b queue.Broker, d task.Descriptor) string {
	t.Helper()
	payload, err := d.Encode()
	require.NoError(t, err)
	id, err := b.Enqueue(context.Background(), payload)
	require.NoError(t, err)
	return id
}

// sqliteFixture wires the same collaborators over one SQLite database with a
// single "default" queue.
type sqliteFixture struct {
	db         *sql.DB
	dispatcher *queue.Dispatcher
	broker     *sqlite.Broker
	logs       *sqlite.TaskLogStore
	registry   *task.Registry
	runs       *executions
}

func newSQLiteFixture(t *testing.T) *sqliteFixture {
	t.Helper()
	f := &sqliteFixture{
		db:         testdb.NewSQLite(t, "default"),
		dispatcher: queue.NewDispatcher("default"),
		runs:       &executions{runs: make(map[uuid.UUID]int)},
	}

	var err error
	f.broker, err = sqlite.NewBroker(f.db, "default")
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.Register("default", f.broker, false))

	f.logs = sqlite.NewTaskLogStore(f.db)
	f.registry = newRegistry(t, f.runs)
	return f
}

func (f *sqliteFixture) producer(opts ...task.ProducerOption) *task.Producer {
	log, _ := logger.NewTestLogger()
	return task.NewProducer(f.dispatcher, f.logs, f.registry, log, opts...)
}

func (f *sqliteFixture) worker() *task.Worker {
	log, _ := logger.NewTestLogger()
	return task.NewWorker(f.dispatcher, f.logs, f.registry, task.DefaultWorkerConfig(), log)
}
