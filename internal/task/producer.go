package task

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// Producer submits tasks: it creates the task log and then either enqueues
// the descriptor on the routed queue or, for a sync queue, runs it inline.
type Producer struct {
	dispatcher *queue.Dispatcher
	logs       store.TaskLogStore
	runner     *runner
	db         *sql.DB
	now        func() time.Time
	logger     *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithTransactions makes Submit create the task log and enqueue the message
// in one transaction on db whenever the routed broker is a queue.TxBroker.
// The task log store and the broker must both be backed by db.
func WithTransactions(db *sql.DB) ProducerOption {
	return func(p *Producer) { p.db = db }
}

// WithMaxDetail bounds failure detail stored for inline runs.
func WithMaxDetail(n int) ProducerOption {
	return func(p *Producer) { p.runner.maxDetail = n }
}

// WithClock overrides the time source used to stamp descriptors.
func WithClock(now func() time.Time) ProducerOption {
	return func(p *Producer) { p.now = now }
}

// NewProducer creates a producer.
func NewProducer(
	dispatcher *queue.Dispatcher,
	logs store.TaskLogStore,
	registry *Registry,
	log *slog.Logger,
	opts ...ProducerOption,
) *Producer {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "producer")

	p := &Producer{
		dispatcher: dispatcher,
		logs:       logs,
		runner:     &runner{registry: registry, store: logs, logger: log},
		now:        time.Now,
		logger:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit records and dispatches d. A missing TaskID or CreatedAt is filled in.
// For a sync queue the task has already run when Submit returns and the
// returned task log carries its outcome; an execution failure is recorded on
// the task log, not returned. If enqueueing fails the task log is marked
// failed and the error is returned.
func (p *Producer) Submit(ctx context.Context, d Descriptor) (*domain.TaskLog, error) {
	if d.TaskID == uuid.Nil {
		d.TaskID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = p.now().UTC()
	}
	payload, err := d.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := p.runner.registry.Lookup(d.Type); err != nil {
		return nil, err
	}

	queueName, err := p.dispatcher.QueueFor(d.Type)
	if err != nil {
		return nil, err
	}
	sync, err := p.dispatcher.IsSync(queueName)
	if err != nil {
		return nil, err
	}

	entry, err := domain.NewTaskLog(d.TaskID, d.UserID, d.Type, d.Label, payload)
	if err != nil {
		return nil, err
	}
	entry.QueueName = queueName

	log := p.logger.With(
		slog.String("task_id", d.TaskID.String()),
		slog.String("task_type", d.Type),
		slog.String("queue", queueName))
	ctx = logger.WithLogger(ctx, log)

	if sync {
		return p.runInline(ctx, entry, d)
	}

	broker, err := p.dispatcher.Broker(queueName)
	if err != nil {
		return nil, err
	}
	if txb, ok := broker.(queue.TxBroker); ok && p.db != nil {
		return p.enqueueInTx(ctx, txb, entry, payload)
	}
	return p.enqueue(ctx, broker, entry, payload)
}

func (p *Producer) runInline(ctx context.Context, entry *domain.TaskLog, d Descriptor) (*domain.TaskLog, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if err := p.logs.Create(ctx, entry); err != nil {
		return nil, err
	}
	if err := p.logs.MarkStarted(ctx, entry.ID, ""); err != nil {
		return nil, err
	}

	report, execErr := p.runner.execute(ctx, d)
	if err := p.runner.record(ctx, entry.ID, report, execErr); err != nil {
		return nil, err
	}
	if execErr != nil {
		log.WarnContext(ctx, "inline task failed", slog.String("error", p.runner.detail(execErr)))
	} else {
		log.DebugContext(ctx, "inline task completed")
	}
	return p.logs.GetByID(ctx, entry.ID)
}

func (p *Producer) enqueue(ctx context.Context, broker queue.Broker, entry *domain.TaskLog, payload []byte) (*domain.TaskLog, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if err := p.logs.Create(ctx, entry); err != nil {
		return nil, err
	}

	messageID, err := broker.Enqueue(ctx, payload)
	if err != nil {
		log.ErrorContext(ctx, "failed to enqueue task", slog.String("error", err.Error()))
		if markErr := p.logs.MarkFailed(ctx, entry.ID, p.runner.detail(err)); markErr != nil {
			log.ErrorContext(ctx, "failed to mark unqueued task failed", slog.String("error", markErr.Error()))
		}
		return nil, err
	}

	if err := p.logs.AttachMessage(ctx, entry.ID, broker.Name(), messageID); err != nil {
		return nil, err
	}
	entry.MessageID = messageID

	log.DebugContext(ctx, "task enqueued", slog.String("message_id", messageID))
	return entry, nil
}

func (p *Producer) enqueueInTx(ctx context.Context, broker queue.TxBroker, entry *domain.TaskLog, payload []byte) (*domain.TaskLog, error) {
	var messageID string
	err := store.RunInTransaction(ctx, p.db, func(ctx context.Context, tx *sql.Tx) error {
		logs := p.logs.WithTx(tx)
		if err := logs.Create(ctx, entry); err != nil {
			return err
		}
		id, err := broker.WithTx(tx).Enqueue(ctx, payload)
		if err != nil {
			return err
		}
		messageID = id
		return logs.AttachMessage(ctx, entry.ID, broker.Name(), id)
	})
	if err != nil {
		return nil, err
	}
	entry.MessageID = messageID

	logger.FromContextOrDefault(ctx, p.logger).DebugContext(ctx, "task enqueued",
		slog.String("message_id", messageID))
	return entry, nil
}
