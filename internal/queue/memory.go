package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	msg Message
	seq uint64
}

// MemoryBroker is a mutex-guarded, process-local Broker. It gives the same
// leasing guarantees as the SQL brokers within one process and is used for
// tests and embedded setups.
type MemoryBroker struct {
	name    string
	mu      sync.Mutex
	seq     uint64
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryBroker creates an empty in-memory queue.
func NewMemoryBroker(name string) (*MemoryBroker, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &MemoryBroker{
		name:    name,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}, nil
}

var _ Broker = (*MemoryBroker)(nil)

// Name implements Broker.
func (b *MemoryBroker) Name() string { return b.name }

// Enqueue implements Broker.
func (b *MemoryBroker) Enqueue(_ context.Context, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := uuid.New().String()
	body := make([]byte, len(payload))
	copy(body, payload)
	b.entries[id] = &memoryEntry{
		msg: Message{ID: id, Payload: body, Visible: true, CreatedAt: b.now().UTC()},
		seq: b.seq,
	}
	return id, nil
}

// Dequeue implements Broker.
func (b *MemoryBroker) Dequeue(ctx context.Context, max int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		return []Message{}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	visible := make([]*memoryEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.msg.Visible {
			visible = append(visible, e)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].msg.CreatedAt.Equal(visible[j].msg.CreatedAt) {
			return visible[i].msg.CreatedAt.Before(visible[j].msg.CreatedAt)
		}
		return visible[i].seq < visible[j].seq
	})

	if len(visible) > max {
		visible = visible[:max]
	}
	out := make([]Message, 0, len(visible))
	for _, e := range visible {
		e.msg.Visible = false
		out = append(out, e.msg)
	}
	return out, nil
}

// Acknowledge implements Broker.
func (b *MemoryBroker) Acknowledge(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
	return nil
}

// Requeue implements Broker.
func (b *MemoryBroker) Requeue(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	e.msg.Visible = true
	return nil
}

// Count implements Broker.
func (b *MemoryBroker) Count(_ context.Context, visible bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.entries {
		if e.msg.Visible == visible {
			n++
		}
	}
	return n, nil
}

// Lookup implements Broker.
func (b *MemoryBroker) Lookup(_ context.Context, id string) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return e.msg, nil
}
