package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/sqlqueue/internal/events"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/redact"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// DefaultForceFailReason is stored on a task log force-failed without a reason.
const DefaultForceFailReason = "task abandoned by its worker"

// Reconciler applies recovery actions to stuck tasks and announces them with
// task.recovered events.
type Reconciler struct {
	dispatcher *queue.Dispatcher
	logs       store.TaskLogStore
	emitter    events.EventEmitter
	logger     *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	dispatcher *queue.Dispatcher,
	logs store.TaskLogStore,
	emitter events.EventEmitter,
	log *slog.Logger,
) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		dispatcher: dispatcher,
		logs:       logs,
		emitter:    emitter,
		logger:     log.With("component", "reconciler"),
	}
}

// Requeue makes a stuck task runnable again and returns the id of the message
// that will carry it. A leased message is made visible; a missing one is
// replaced by re-enqueueing the stored descriptor. Either way the task log is
// touched so it is no longer stale.
func (r *Reconciler) Requeue(ctx context.Context, st StuckTask) (string, error) {
	if st.State == StateUnknownQueue {
		return "", fmt.Errorf("%w: task %s: queue %q is not an async queue", ErrUnrecoverable, st.TaskID, st.Queue)
	}
	broker, err := r.dispatcher.Broker(st.Queue)
	if err != nil {
		return "", fmt.Errorf("%w: task %s: %w", ErrUnrecoverable, st.TaskID, err)
	}

	messageID := st.MessageID
	state := st.State
	if state == queue.StateLeased {
		err := broker.Requeue(ctx, messageID)
		switch {
		case errors.Is(err, queue.ErrMessageNotFound):
			// Acknowledged or lost since detection.
			state = queue.StateMissing
		case err != nil:
			return "", fmt.Errorf("requeue message %s: %w", messageID, err)
		}
	}

	if state == queue.StateMissing {
		if st.Descriptor == nil {
			return "", fmt.Errorf("%w: task %s has no decodable descriptor", ErrUnrecoverable, st.TaskID)
		}
		payload, err := st.Descriptor.Encode()
		if err != nil {
			return "", fmt.Errorf("%w: task %s: %w", ErrUnrecoverable, st.TaskID, err)
		}
		messageID, err = broker.Enqueue(ctx, payload)
		if err != nil {
			return "", fmt.Errorf("re-enqueue task %s: %w", st.TaskID, err)
		}
	}

	if err := r.logs.AttachMessage(ctx, st.TaskID, st.Queue, messageID); err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "requeued stuck task",
		slog.String("task_id", st.TaskID.String()),
		slog.String("queue", st.Queue),
		slog.String("state", string(st.State)),
		slog.String("message_id", messageID))

	r.emit(ctx, st, events.RecoveredPayload{
		Action:    events.ActionRequeued,
		Queue:     st.Queue,
		MessageID: messageID,
		State:     string(st.State),
	})
	return messageID, nil
}

// ForceFail marks a stuck task failed with reason and acknowledges its
// message if it is still leased, so it will not run again.
func (r *Reconciler) ForceFail(ctx context.Context, st StuckTask, reason string) error {
	if reason == "" {
		reason = DefaultForceFailReason
	}
	reason = redact.String(reason)

	if err := r.logs.MarkFailed(ctx, st.TaskID, reason); err != nil {
		return err
	}

	if st.State == queue.StateLeased && st.MessageID != "" {
		if broker, err := r.dispatcher.Broker(st.Queue); err == nil {
			if err := broker.Acknowledge(ctx, st.MessageID); err != nil {
				r.logger.ErrorContext(ctx, "failed to acknowledge force-failed task's message",
					slog.String("task_id", st.TaskID.String()),
					slog.String("message_id", st.MessageID),
					slog.String("error", err.Error()))
				return fmt.Errorf("acknowledge message %s: %w", st.MessageID, err)
			}
		}
	}

	r.logger.InfoContext(ctx, "force-failed stuck task",
		slog.String("task_id", st.TaskID.String()),
		slog.String("queue", st.Queue),
		slog.String("state", string(st.State)))

	r.emit(ctx, st, events.RecoveredPayload{
		Action:    events.ActionFailed,
		Queue:     st.Queue,
		MessageID: st.MessageID,
		State:     string(st.State),
		Reason:    reason,
	})
	return nil
}

// emit publishes a task.recovered event. The recovery has already been
// applied, so a handler failure is logged rather than returned.
func (r *Reconciler) emit(ctx context.Context, st StuckTask, payload events.RecoveredPayload) {
	if r.emitter == nil {
		return
	}
	entry, err := r.logs.GetByID(ctx, st.TaskID)
	if err != nil {
		entry = st.Entry
	}
	if entry != nil {
		payload.Task = entry.ToRecord()
	}

	event, err := events.NewEvent(events.TypeTaskRecovered, st.TaskID, payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to build recovery event", slog.String("error", err.Error()))
		return
	}
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to emit recovery event",
			slog.String("event_id", event.ID.String()),
			slog.String("error", err.Error()))
	}
}
