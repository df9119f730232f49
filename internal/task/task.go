package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Task is one kind of background work. Execute receives the descriptor it
// was submitted with and returns a JSON report on success.
//
// Delivery is at-least-once: a task may run again after a worker crash, so
// Execute must tolerate repeats.
type Task interface {
	// Type returns the task type identifier used for routing
	Type() string

	// Execute runs the task logic
	Execute(ctx context.Context, d Descriptor) (json.RawMessage, error)
}

// Func is the signature of a task's work.
type Func func(ctx context.Context, d Descriptor) (json.RawMessage, error)

type funcTask struct {
	taskType string
	fn       Func
}

// NewTask builds a Task from a function.
func NewTask(taskType string, fn Func) Task {
	return funcTask{taskType: taskType, fn: fn}
}

func (t funcTask) Type() string { return t.taskType }

func (t funcTask) Execute(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	return t.fn(ctx, d)
}

// Registry maps task types to tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates a registry holding tasks.
func NewRegistry(tasks ...Task) (*Registry, error) {
	r := &Registry{tasks: make(map[string]Task)}
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a task. Registering the same type twice is an error.
func (r *Registry) Register(t Task) error {
	if t == nil || t.Type() == "" {
		return fmt.Errorf("register task: type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Type()]; exists {
		return fmt.Errorf("register task: %q already registered", t.Type())
	}
	r.tasks[t.Type()] = t
	return nil
}

// Lookup returns the task registered for taskType.
func (r *Registry) Lookup(taskType string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	return t, nil
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
