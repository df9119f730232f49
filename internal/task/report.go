package task

import (
	"fmt"
	"strings"
	"time"
)

// Status summarizes a worker run.
type Status string

const (
	// StatusSuccess means every processed task completed.
	StatusSuccess Status = "success"
	// StatusPartial means some processed tasks did not complete.
	StatusPartial Status = "partial"
	// StatusFailure means no processed task completed, or the run could not start.
	StatusFailure Status = "failure"
	// StatusNothingToDo means no queue had a visible message.
	StatusNothingToDo Status = "nothing_to_do"
)

// Outcome is what happened to one dequeued message.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped marks a redelivered message whose task log was already
	// terminal; the message is acknowledged without running the task again.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError marks a persistence failure; the message stays leased for
	// the stuck task detector.
	OutcomeError Outcome = "error"
)

// Line is the report entry for one processed message.
type Line struct {
	Queue     string        `json:"queue"`
	TaskID    string        `json:"task_id,omitempty"`
	MessageID string        `json:"message_id"`
	Type      string        `json:"type,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report is the result of a worker run.
type Report struct {
	Queues    []string      `json:"queues"`
	Status    Status        `json:"status"`
	Processed int           `json:"processed"`
	Lines     []Line        `json:"lines"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// finalize derives Status from the lines.
func (r *Report) finalize() {
	r.Processed = len(r.Lines)
	if r.Lines == nil {
		r.Lines = []Line{}
	}
	if r.Error != "" {
		if r.Processed == 0 {
			r.Status = StatusFailure
			return
		}
	}

	var ok, bad int
	for _, l := range r.Lines {
		switch l.Outcome {
		case OutcomeCompleted, OutcomeSkipped:
			ok++
		default:
			bad++
		}
	}

	switch {
	case r.Processed == 0:
		r.Status = StatusNothingToDo
	case bad == 0 && r.Error == "":
		r.Status = StatusSuccess
	case ok == 0:
		r.Status = StatusFailure
	default:
		r.Status = StatusPartial
	}
}

// Count returns the number of lines with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, l := range r.Lines {
		if l.Outcome == o {
			n++
		}
	}
	return n
}

// String renders the report as a status line followed by one line per task.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d processed in %s", r.Status, r.Processed, r.Duration)
	if r.Error != "" {
		fmt.Fprintf(&b, " (%s)", r.Error)
	}
	for _, l := range r.Lines {
		fmt.Fprintf(&b, "\n%s %s/%s %s %s", l.Outcome, l.Queue, l.MessageID, l.Type, l.Duration)
		if l.Detail != "" {
			fmt.Fprintf(&b, ": %s", l.Detail)
		}
	}
	return b.String()
}
