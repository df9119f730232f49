package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/task"
)

func runFlags(flags *pflag.FlagSet) {
	flags.String("queue", "", "queue to drain; empty drains every async queue")
	flags.Int("limit", 100, "maximum number of tasks to process")
	flags.Int("concurrency", 1, "tasks executed at once")
	flags.Int("dequeue-batch", 1, "messages leased per dequeue")
}

func runCommand(ctx context.Context, app *application, flags *pflag.FlagSet, stdout io.Writer) error {
	queueName, _ := flags.GetString("queue")
	limit := app.config.Worker.Limit

	var (
		rep task.Report
		err error
	)
	if queueName == "" {
		rep, err = app.worker.RunAll(ctx, limit)
	} else {
		rep, err = app.worker.Run(ctx, queueName, limit)
	}

	if werr := writeJSON(stdout, rep); werr != nil {
		return werr
	}
	if err != nil || rep.Status == task.StatusFailure {
		return &exitError{code: exitFailure}
	}
	return nil
}

func enqueueFlags(flags *pflag.FlagSet) {
	flags.String("type", "", "task type")
	flags.String("user", "", "owning user id")
	flags.String("label", "", "human-readable label")
	flags.String("params", "", "task params as a JSON document")
	flags.String("task-id", "", "task id; generated when empty")
}

func enqueueCommand(ctx context.Context, app *application, flags *pflag.FlagSet, stdout io.Writer) error {
	taskType, _ := flags.GetString("type")
	userArg, _ := flags.GetString("user")
	label, _ := flags.GetString("label")
	params, _ := flags.GetString("params")
	taskIDArg, _ := flags.GetString("task-id")

	userID, err := uuid.Parse(userArg)
	if err != nil {
		return fmt.Errorf("invalid --user %q: %w", userArg, err)
	}
	d := task.Descriptor{
		Type:   taskType,
		UserID: userID,
		Label:  label,
	}
	if params != "" {
		d.Params = json.RawMessage(params)
	}
	if taskIDArg != "" {
		if d.TaskID, err = uuid.Parse(taskIDArg); err != nil {
			return fmt.Errorf("invalid --task-id %q: %w", taskIDArg, err)
		}
	}

	entry, err := app.producer.Submit(ctx, d)
	if err != nil {
		return err
	}
	return writeJSON(stdout, app.tasks.Record(entry))
}

// Stuck task actions.
const (
	actionList    = "list"
	actionRequeue = "requeue"
	actionFail    = "fail"
)

func stuckFlags(flags *pflag.FlagSet) {
	flags.Duration("stuck-threshold", 15*time.Minute, "age after which an in-progress task is a candidate")
	flags.String("action", actionList, "list, requeue or fail")
	flags.String("reason", "", "failure detail stored by --action fail")
}

type stuckResult struct {
	TaskID      uuid.UUID   `json:"task_id"`
	Queue       string      `json:"queue"`
	MessageID   string      `json:"message_id,omitempty"`
	State       queue.State `json:"state"`
	Recoverable bool        `json:"recoverable"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Action      string      `json:"action,omitempty"`
	NewMessage  string      `json:"new_message_id,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func stuckCommand(ctx context.Context, app *application, flags *pflag.FlagSet, stdout io.Writer) error {
	action, _ := flags.GetString("action")
	reason, _ := flags.GetString("reason")
	switch action {
	case actionList, actionRequeue, actionFail:
	default:
		return fmt.Errorf("unknown --action %q", action)
	}

	stuck, err := app.detector.FindStuck(ctx, app.config.Worker.StuckThreshold)
	if err != nil {
		return err
	}

	failed := false
	results := make([]stuckResult, 0, len(stuck))
	for _, st := range stuck {
		res := stuckResult{
			TaskID:      st.TaskID,
			Queue:       st.Queue,
			MessageID:   st.MessageID,
			State:       st.State,
			Recoverable: st.Recoverable(),
			UpdatedAt:   st.Entry.UpdatedAt,
		}

		var actErr error
		switch action {
		case actionRequeue:
			res.Action = actionRequeue
			res.NewMessage, actErr = app.reconciler.Requeue(ctx, st)
		case actionFail:
			res.Action = actionFail
			actErr = app.reconciler.ForceFail(ctx, st, reason)
		}
		if actErr != nil {
			res.Error = actErr.Error()
			failed = true
		}
		results = append(results, res)
	}

	if err := writeJSON(stdout, results); err != nil {
		return err
	}
	if failed {
		return &exitError{code: exitFailure}
	}
	return nil
}

func migrateCommand(ctx context.Context, app *application, _ *pflag.FlagSet, stdout io.Writer) error {
	version, err := app.migrate(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"version": version,
		"queues":  app.dispatcher.Queues(),
	})
}

func tasksFlags(flags *pflag.FlagSet) {
	flags.String("user", "", "owning user id")
	flags.String("id", "", "a single task id")
	flags.Bool("stats", false, "print per-status counts only")
	flags.Bool("archive", false, "archive the task given by --id")
	flags.Bool("force", false, "with --archive, archive even if still in progress")
}

func tasksCommand(ctx context.Context, app *application, flags *pflag.FlagSet, stdout io.Writer) error {
	userArg, _ := flags.GetString("user")
	idArg, _ := flags.GetString("id")
	statsOnly, _ := flags.GetBool("stats")
	archive, _ := flags.GetBool("archive")
	force, _ := flags.GetBool("force")

	userID, err := uuid.Parse(userArg)
	if err != nil {
		return fmt.Errorf("invalid --user %q: %w", userArg, err)
	}

	if statsOnly {
		stats, err := app.tasks.GetStats(ctx, userID)
		if err != nil {
			return err
		}
		return writeJSON(stdout, stats)
	}

	if idArg == "" {
		if archive {
			return fmt.Errorf("--archive requires --id")
		}
		coll, err := app.tasks.FindAvailableByUser(ctx, userID)
		if err != nil {
			return err
		}
		return writeJSON(stdout, struct {
			Tasks []domain.Record `json:"tasks"`
			Stats domain.TaskStats `json:"stats"`
		}{Tasks: app.tasks.Records(coll), Stats: coll.Stats()})
	}

	id, err := uuid.Parse(idArg)
	if err != nil {
		return fmt.Errorf("invalid --id %q: %w", idArg, err)
	}
	entry, err := app.tasks.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if !archive {
		return writeJSON(stdout, app.tasks.Record(entry))
	}

	archived, err := app.tasks.Archive(ctx, entry, force)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"archived": archived,
		"task":     app.tasks.Record(entry),
	})
}
