// Package queuetest holds the behaviour every queue.Broker implementation
// must satisfy, runnable against any backend.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty broker for one subtest.
type Factory func(t *testing.T) queue.Broker

// enqueueSpaced enqueues payloads with a small gap so backends with coarse
// timestamps still see distinct created_at values.
func enqueueSpaced(t *testing.T, b queue.Broker, payloads ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := b.Enqueue(context.Background(), []byte(p))
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}
	return ids
}

// Run executes the broker contract against brokers built by newBroker.
func Run(t *testing.T, newBroker Factory) {
	ctx := context.Background()

	t.Run("dequeue on empty queue", func(t *testing.T) {
		b := newBroker(t)
		msgs, err := b.Dequeue(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("enqueue dequeue acknowledge", func(t *testing.T) {
		b := newBroker(t)
		ids := enqueueSpaced(t, b, "p1")

		n, err := b.Count(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		msgs, err := b.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, ids[0], msgs[0].ID)
		assert.Equal(t, "p1", string(msgs[0].Payload))
		assert.False(t, msgs[0].Visible)
		assert.False(t, msgs[0].CreatedAt.IsZero())

		visible, err := b.Count(ctx, true)
		require.NoError(t, err)
		leased, err := b.Count(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 0, visible)
		assert.Equal(t, 1, leased)

		require.NoError(t, b.Acknowledge(ctx, ids[0]))
		leased, err = b.Count(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 0, leased)

		_, err = b.Lookup(ctx, ids[0])
		assert.ErrorIs(t, err, queue.ErrMessageNotFound)

		assert.NoError(t, b.Acknowledge(ctx, ids[0]), "acknowledge is idempotent")
		assert.NoError(t, b.Acknowledge(ctx, "00000000-0000-0000-0000-000000000000"))
	})

	t.Run("leased message is not dequeued twice", func(t *testing.T) {
		b := newBroker(t)
		enqueueSpaced(t, b, "only")

		first, err := b.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := b.Dequeue(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, second)
	})

	t.Run("dequeue returns oldest first and honours max", func(t *testing.T) {
		b := newBroker(t)
		ids := enqueueSpaced(t, b, "p1", "p2", "p3")

		msgs, err := b.Dequeue(ctx, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, ids[0], msgs[0].ID)
		assert.Equal(t, ids[1], msgs[1].ID)

		rest, err := b.Dequeue(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, ids[2], rest[0].ID)
	})

	t.Run("requeue preserves original order", func(t *testing.T) {
		b := newBroker(t)
		ids := enqueueSpaced(t, b, "p1", "p2", "p3")

		msgs, err := b.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, ids[0], msgs[0].ID)

		require.NoError(t, b.Requeue(ctx, ids[0]))

		m, err := b.Lookup(ctx, ids[0])
		require.NoError(t, err)
		assert.True(t, m.Visible)
		assert.Equal(t, queue.StateVisible, queue.StateOf(m))

		next, err := b.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal(t, ids[0], next[0].ID, "requeued message keeps its place ahead of newer ones")
	})

	t.Run("requeue missing message", func(t *testing.T) {
		b := newBroker(t)
		err := b.Requeue(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, queue.ErrMessageNotFound)
	})

	t.Run("concurrent dequeuers never share a message", func(t *testing.T) {
		b := newBroker(t)
		const total = 30
		for i := 0; i < total; i++ {
			_, err := b.Enqueue(ctx, []byte("m"))
			require.NoError(t, err)
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
			errs = make(chan error, 8)
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					msgs, err := b.Dequeue(ctx, 2)
					if err != nil {
						errs <- err
						return
					}
					if len(msgs) == 0 {
						return
					}
					mu.Lock()
					for _, m := range msgs {
						seen[m.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "message %s leased %d times", id, n)
		}
	})
}
