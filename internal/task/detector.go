package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// StateUnknownQueue marks a stuck task whose queue is not registered as an
// async queue, so its message state cannot be checked.
const StateUnknownQueue queue.State = "unknown_queue"

// StuckTask is an in-progress task log that has gone stale without a visible
// message to pick it up.
type StuckTask struct {
	TaskID    uuid.UUID       `json:"task_id"`
	Queue     string          `json:"queue"`
	MessageID string          `json:"message_id,omitempty"`
	State     queue.State     `json:"state"`
	Entry     *domain.TaskLog `json:"entry"`

	// Descriptor is nil when the stored payload does not decode, in which
	// case the task cannot be re-enqueued.
	Descriptor *Descriptor `json:"descriptor,omitempty"`
}

// Recoverable reports whether Reconciler.Requeue can act on the task.
func (s StuckTask) Recoverable() bool {
	switch s.State {
	case queue.StateLeased:
		return true
	case queue.StateMissing:
		return s.Descriptor != nil
	default:
		return false
	}
}

// Detector finds stuck tasks. It never changes queue or task log state.
type Detector struct {
	dispatcher *queue.Dispatcher
	logs       store.TaskLogStore
	now        func() time.Time
	logger     *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(dispatcher *queue.Dispatcher, logs store.TaskLogStore, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		dispatcher: dispatcher,
		logs:       logs,
		now:        time.Now,
		logger:     log.With("component", "stuck_detector"),
	}
}

// SetClock overrides the detector's time source.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// FindStuck returns in-progress task logs untouched for longer than threshold
// whose message is leased, missing, or on a queue that cannot be checked.
// Tasks whose message is still visible are waiting, not stuck.
func (d *Detector) FindStuck(ctx context.Context, threshold time.Duration) ([]StuckTask, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: stuck threshold must be positive, got %s", queue.ErrConfiguration, threshold)
	}
	cutoff := d.now().Add(-threshold)

	candidates, err := d.logs.FindStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale task logs: %w", err)
	}

	stuck := make([]StuckTask, 0, len(candidates))
	for _, entry := range candidates {
		st, ok, err := d.classify(ctx, entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			d.logger.DebugContext(ctx, "stale task is still waiting in its queue",
				slog.String("task_id", entry.ID.String()),
				slog.String("queue", entry.QueueName))
			continue
		}
		stuck = append(stuck, st)
	}

	d.logger.InfoContext(ctx, "stuck task scan finished",
		slog.Time("cutoff", cutoff),
		slog.Int("candidates", len(candidates)),
		slog.Int("stuck", len(stuck)))
	return stuck, nil
}

func (d *Detector) classify(ctx context.Context, entry *domain.TaskLog) (StuckTask, bool, error) {
	st := StuckTask{
		TaskID:    entry.ID,
		Queue:     entry.QueueName,
		MessageID: entry.MessageID,
		Entry:     entry,
	}
	if desc, err := DecodeDescriptor(entry.Payload); err == nil {
		st.Descriptor = &desc
	}

	broker, err := d.dispatcher.Broker(entry.QueueName)
	if err != nil {
		st.State = StateUnknownQueue
		return st, true, nil
	}
	if entry.MessageID == "" {
		st.State = queue.StateMissing
		return st, true, nil
	}

	msg, err := broker.Lookup(ctx, entry.MessageID)
	switch {
	case errors.Is(err, queue.ErrMessageNotFound):
		st.State = queue.StateMissing
	case err != nil:
		return st, false, fmt.Errorf("look up message %s in %q: %w", entry.MessageID, entry.QueueName, err)
	default:
		st.State = queue.StateOf(msg)
	}

	if st.State == queue.StateVisible {
		return st, false, nil
	}
	return st, true, nil
}
