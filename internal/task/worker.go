package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// WorkerConfig holds the worker's tuning knobs.
type WorkerConfig struct {
	// Concurrency is how many messages of one dequeued batch run at once.
	// If zero or negative, defaults to 1.
	Concurrency int

	// DequeueBatch is the largest number of messages leased per Dequeue call.
	// If zero or negative, defaults to 1.
	DequeueBatch int

	// MaxDetail bounds stored failure detail. Zero means DefaultMaxDetail.
	MaxDetail int
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  1,
		DequeueBatch: 1,
		MaxDetail:    DefaultMaxDetail,
	}
}

// Worker drains queues a bounded number of messages at a time. It is meant to
// be invoked repeatedly by a scheduler; a single Run never waits for work.
type Worker struct {
	dispatcher  *queue.Dispatcher
	logs        store.TaskLogStore
	runner      *runner
	concurrency int
	batch       int
	logger      *slog.Logger
}

// NewWorker creates a worker over the dispatcher's queues.
func NewWorker(
	dispatcher *queue.Dispatcher,
	logs store.TaskLogStore,
	registry *Registry,
	config WorkerConfig,
	log *slog.Logger,
) *Worker {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "worker")

	concurrency := config.Concurrency
	if concurrency <= 0 {
		log.Warn("invalid worker concurrency specified, using default",
			"specified", config.Concurrency,
			"default", 1)
		concurrency = 1
	}
	batch := config.DequeueBatch
	if batch <= 0 {
		batch = 1
	}

	return &Worker{
		dispatcher: dispatcher,
		logs:       logs,
		runner: &runner{
			registry:  registry,
			store:     logs,
			logger:    log,
			maxDetail: config.MaxDetail,
		},
		concurrency: concurrency,
		batch:       batch,
		logger:      log,
	}
}

// Run processes at most limit messages from queueName. An unknown or
// synchronous queue fails the run before anything is dequeued. A failing task
// never stops the run; a failing dequeue does, and is returned alongside the
// report of what was processed before it.
func (w *Worker) Run(ctx context.Context, queueName string, limit int) (Report, error) {
	start := time.Now()
	rep := Report{Queues: []string{queueName}}

	_, err := w.drain(ctx, queueName, limit, &rep)
	w.finish(ctx, &rep, start, err)
	return rep, err
}

// RunAll drains every async queue in registration order, sharing limit
// across them. A dequeue failure on one queue is reported and the next queue
// is still drained.
func (w *Worker) RunAll(ctx context.Context, limit int) (Report, error) {
	start := time.Now()
	rep := Report{}

	names := w.dispatcher.AsyncQueues()
	if len(names) == 0 {
		err := fmt.Errorf("%w: no async queues registered", queue.ErrConfiguration)
		w.finish(ctx, &rep, start, err)
		return rep, err
	}

	var errs []error
	remaining := limit
	for _, name := range names {
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		rep.Queues = append(rep.Queues, name)
		n, err := w.drain(ctx, name, remaining, &rep)
		remaining -= n
		if err != nil {
			if errors.Is(err, queue.ErrConfiguration) {
				w.finish(ctx, &rep, start, err)
				return rep, err
			}
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	w.finish(ctx, &rep, start, err)
	return rep, err
}

func (w *Worker) finish(ctx context.Context, rep *Report, start time.Time, err error) {
	if err != nil {
		rep.Error = err.Error()
	}
	rep.Duration = since(start)
	rep.finalize()

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	w.logger.Log(ctx, level, "worker run finished",
		slog.Any("queues", rep.Queues),
		slog.String("status", string(rep.Status)),
		slog.Int("processed", rep.Processed),
		slog.Int("completed", rep.Count(OutcomeCompleted)),
		slog.Int("failed", rep.Count(OutcomeFailed)),
		slog.Duration("duration", rep.Duration))
}

// drain leases and processes messages until the queue is empty, limit is
// reached, or ctx is done. It returns how many messages it processed.
func (w *Worker) drain(ctx context.Context, queueName string, limit int, rep *Report) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive, got %d", queue.ErrConfiguration, limit)
	}
	broker, err := w.dispatcher.Broker(queueName)
	if err != nil {
		return 0, err
	}

	processed := 0
	for processed < limit {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "worker run cancelled, leaving remaining messages",
				slog.String("queue", queueName),
				slog.Int("processed", processed))
			break
		}

		msgs, err := broker.Dequeue(ctx, min(w.batch, limit-processed))
		if err != nil {
			return processed, fmt.Errorf("dequeue from %q: %w", queueName, err)
		}
		if len(msgs) == 0 {
			break
		}

		rep.Lines = append(rep.Lines, w.processBatch(ctx, broker, msgs)...)
		processed += len(msgs)
	}
	return processed, nil
}

func (w *Worker) processBatch(ctx context.Context, broker queue.Broker, msgs []queue.Message) []Line {
	lines := make([]Line, len(msgs))
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for i, msg := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, msg queue.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			lines[i] = w.process(ctx, broker, msg)
		}(i, msg)
	}

	wg.Wait()
	return lines
}

// process handles one leased message. Once leased, a message is seen through
// to its outcome even if ctx is cancelled.
func (w *Worker) process(ctx context.Context, broker queue.Broker, msg queue.Message) Line {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)
	line := Line{Queue: broker.Name(), MessageID: msg.ID}
	log := w.logger.With(
		slog.String("queue", broker.Name()),
		slog.String("message_id", msg.ID))

	done := func(o Outcome, err error) Line {
		line.Outcome = o
		if err != nil {
			line.Detail = w.runner.detail(err)
		}
		line.Duration = since(start)
		return line
	}

	d, err := DecodeDescriptor(msg.Payload)
	if err != nil {
		// A message that does not decode can never run.
		log.ErrorContext(ctx, "dropping undecodable message", slog.String("error", err.Error()))
		if ackErr := broker.Acknowledge(ctx, msg.ID); ackErr != nil {
			return done(OutcomeError, ackErr)
		}
		return done(OutcomeFailed, err)
	}

	line.TaskID = d.TaskID.String()
	line.Type = d.Type
	log = log.With(slog.String("task_id", line.TaskID), slog.String("task_type", d.Type))
	ctx = logger.WithLogger(ctx, log)

	entry, err := w.ensureEntry(ctx, broker.Name(), msg, d)
	if err != nil {
		log.ErrorContext(ctx, "failed to load task log", slog.String("error", err.Error()))
		return done(OutcomeError, err)
	}

	if entry.Status.IsTerminal() {
		log.WarnContext(ctx, "task already finished, acknowledging redelivered message",
			slog.String("status", string(entry.Status)))
		if err := broker.Acknowledge(ctx, msg.ID); err != nil {
			return done(OutcomeError, err)
		}
		return done(OutcomeSkipped, nil)
	}

	if err := w.logs.MarkStarted(ctx, d.TaskID, msg.ID); err != nil {
		log.ErrorContext(ctx, "failed to mark task started", slog.String("error", err.Error()))
		return done(OutcomeError, err)
	}

	report, execErr := w.runner.execute(ctx, d)

	if err := broker.Acknowledge(ctx, msg.ID); err != nil {
		log.ErrorContext(ctx, "failed to acknowledge message", slog.String("error", err.Error()))
		return done(OutcomeError, err)
	}

	if err := w.runner.record(ctx, d.TaskID, report, execErr); err != nil {
		log.ErrorContext(ctx, "failed to record task outcome", slog.String("error", err.Error()))
		return done(OutcomeError, err)
	}

	if execErr != nil {
		log.WarnContext(ctx, "task failed", slog.String("error", w.runner.detail(execErr)))
		return done(OutcomeFailed, execErr)
	}

	log.DebugContext(ctx, "task completed")
	return done(OutcomeCompleted, nil)
}

// ensureEntry returns the task log for d, creating it when the message was
// enqueued without one.
func (w *Worker) ensureEntry(ctx context.Context, queueName string, msg queue.Message, d Descriptor) (*domain.TaskLog, error) {
	entry, err := w.logs.GetByID(ctx, d.TaskID)
	if err == nil {
		return entry, nil
	}
	if !store.IsNotFoundError(err) {
		return nil, err
	}

	entry, err = domain.NewTaskLog(d.TaskID, d.UserID, d.Type, d.Label, msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	entry.QueueName = queueName
	entry.MessageID = msg.ID

	err = w.logs.Create(ctx, entry)
	if errors.Is(err, store.ErrDuplicate) {
		return w.logs.GetByID(ctx, d.TaskID)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}
