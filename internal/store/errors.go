package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/sqlqueue/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrPersistence is returned when the underlying storage operation failed.
	// Callers treat it as fatal for the current attempt.
	ErrPersistence = errors.New("persistence failure")

	// ErrTaskLogNotFound indicates that the requested task log does not exist.
	ErrTaskLogNotFound = fmt.Errorf("%w: task log", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task_log", "message")
	Operation string // The operation that failed (e.g., "create", "dequeue")
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation on %s failed: %v", e.Operation, e.Entity, e.Err)
}

// Unwrap returns the wrapped error and ErrPersistence so that callers can
// match either with errors.Is.
func (e *StoreError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NewStoreError wraps a driver error as a persistence failure for the given
// entity and operation.
func NewStoreError(entity, operation string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Err:       err,
	}
}

// ErrInvalidTransition is returned when a status write would move a task log
// backwards or out of a terminal state.
var ErrInvalidTransition = domain.ErrInvalidTransition
