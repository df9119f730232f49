package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a status change would move a task
	// log backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrArchiveInProgress is returned when a task that has not reached a
	// terminal status is archived without the forced flag.
	ErrArchiveInProgress = errors.New("cannot archive a task that is still in progress")
)
