package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/redact"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// DefaultMaxDetail bounds the failure detail stored on a task log.
const DefaultMaxDetail = 2000

// runner executes one task and records its outcome on the task log. The
// worker and the producer's inline path share it.
type runner struct {
	registry  *Registry
	store     store.TaskLogStore
	logger    *slog.Logger
	maxDetail int
}

// execute runs the task for d, converting a panic into an execution error.
func (r *runner) execute(ctx context.Context, d Descriptor) (report json.RawMessage, err error) {
	t, err := r.registry.Lookup(d.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "task panicked",
				slog.String("task_id", d.TaskID.String()),
				slog.String("task_type", d.Type),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			report = nil
			err = fmt.Errorf("%w: panic: %v", ErrExecution, p)
		}
	}()

	report, err = t.Execute(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if len(report) > 0 && !json.Valid(report) {
		b, _ := json.Marshal(string(report))
		report = b
	}
	return report, nil
}

// record persists an execution result.
func (r *runner) record(ctx context.Context, id uuid.UUID, report json.RawMessage, execErr error) error {
	if execErr != nil {
		return r.store.MarkFailed(ctx, id, r.detail(execErr))
	}
	return r.store.MarkCompleted(ctx, id, report)
}

func (r *runner) detail(err error) string {
	max := r.maxDetail
	if max == 0 {
		max = DefaultMaxDetail
	}
	return redact.Detail(err, max)
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
