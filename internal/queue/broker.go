package queue

import (
	"context"
	"database/sql"
)

// Broker is the set of operations over one named queue.
// Implementations must be safe for concurrent use by multiple processes:
// no two Dequeue calls may ever return the same message while it is leased.
type Broker interface {
	// Name returns the queue name the broker serves.
	Name() string

	// Enqueue stores payload as a new visible message and returns its id.
	Enqueue(ctx context.Context, payload []byte) (string, error)

	// Dequeue leases up to max of the oldest visible messages, flipping them
	// invisible atomically. It returns an empty slice when nothing is visible.
	Dequeue(ctx context.Context, max int) ([]Message, error)

	// Acknowledge deletes a message. Acknowledging a missing id is a no-op.
	Acknowledge(ctx context.Context, id string) error

	// Requeue makes a message visible again. Returns ErrMessageNotFound if
	// the id does not exist.
	Requeue(ctx context.Context, id string) error

	// Count returns the number of messages with the given visibility.
	Count(ctx context.Context, visible bool) (int, error)

	// Lookup returns a message without changing it. Returns
	// ErrMessageNotFound if the id does not exist.
	Lookup(ctx context.Context, id string) (Message, error)
}

// TxBroker is a Broker whose writes can join a caller's SQL transaction.
type TxBroker interface {
	Broker

	// WithTx returns a broker that runs its statements on tx.
	WithTx(tx *sql.Tx) Broker
}
