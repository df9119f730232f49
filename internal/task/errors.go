package task

import "errors"

var (
	// ErrExecution wraps a failure returned (or panicked) by a task's own work.
	ErrExecution = errors.New("task execution failed")

	// ErrUnknownTaskType is returned when no task is registered for a type.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidDescriptor is returned when a descriptor is missing required
	// fields or cannot be decoded.
	ErrInvalidDescriptor = errors.New("invalid task descriptor")

	// ErrUnrecoverable is returned when a stuck task cannot be requeued
	// because neither its message nor its descriptor survives.
	ErrUnrecoverable = errors.New("stuck task cannot be requeued")
)
