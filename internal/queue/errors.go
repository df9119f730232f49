package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when required queue setup is missing or
	// invalid. It is fatal and never retried.
	ErrConfiguration = errors.New("queue configuration error")

	// ErrInvalidQueueName indicates a queue name that cannot be used to name
	// storage objects.
	ErrInvalidQueueName = fmt.Errorf("%w: invalid queue name", ErrConfiguration)

	// ErrUnknownQueue indicates a queue name the dispatcher does not know.
	ErrUnknownQueue = fmt.Errorf("%w: unknown queue", ErrConfiguration)

	// ErrSyncQueue indicates a queue configured to run its tasks inline; it
	// has no broker to drain.
	ErrSyncQueue = fmt.Errorf("%w: queue runs synchronously", ErrConfiguration)

	// ErrMessageNotFound is returned when a message id does not exist in the queue.
	ErrMessageNotFound = errors.New("message not found")
)
