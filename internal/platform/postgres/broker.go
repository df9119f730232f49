package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// Broker is a queue.Broker backed by one queue_<name> table.
type Broker struct {
	db    store.DBTX
	name  string
	table string
	now   func() time.Time
}

var _ queue.TxBroker = (*Broker)(nil)

// NewBroker returns a broker for the named queue. The queue's table must
// already exist (see DefineQueueSchema).
func NewBroker(db store.DBTX, name string) (*Broker, error) {
	if err := queue.ValidateName(name); err != nil {
		return nil, err
	}
	return &Broker{db: db, name: name, table: queue.TableName(name), now: time.Now}, nil
}

// WithTx returns a broker that runs on tx, so an enqueue can commit together
// with a task log write.
func (b *Broker) WithTx(tx *sql.Tx) queue.Broker {
	c := *b
	c.db = tx
	return &c
}

// Name implements queue.Broker.
func (b *Broker) Name() string { return b.name }

// Enqueue implements queue.Broker.
func (b *Broker) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, message, visible, created_at) VALUES ($1, $2, TRUE, $3)`, b.table),
		id, string(payload), b.now().UTC())
	if err != nil {
		return "", MapError(b.table, "enqueue", err)
	}
	return id, nil
}

// Dequeue implements queue.Broker. Rows locked by another dequeuer are
// skipped rather than waited on; the outer visible check keeps the flip a
// compare-and-swap.
func (b *Broker) Dequeue(ctx context.Context, max int) ([]queue.Message, error) {
	if max <= 0 {
		return []queue.Message{}, nil
	}

	query := fmt.Sprintf(`
UPDATE %[1]s SET visible = FALSE
WHERE visible = TRUE AND id IN (
	SELECT id FROM %[1]s
	WHERE visible = TRUE
	ORDER BY created_at ASC, seq ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, message, created_at, seq`, b.table)

	rows, err := b.db.QueryContext(ctx, query, max)
	if err != nil {
		return nil, MapError(b.table, "dequeue", err)
	}
	defer func() { _ = rows.Close() }()

	type leased struct {
		msg queue.Message
		seq int64
	}
	var batch []leased
	for rows.Next() {
		var (
			l       leased
			message string
		)
		if err := rows.Scan(&l.msg.ID, &message, &l.msg.CreatedAt, &l.seq); err != nil {
			return nil, MapError(b.table, "dequeue", err)
		}
		l.msg.Payload = []byte(message)
		l.msg.CreatedAt = l.msg.CreatedAt.UTC()
		batch = append(batch, l)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(b.table, "dequeue", err)
	}

	// RETURNING order is unspecified.
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].msg.CreatedAt.Equal(batch[j].msg.CreatedAt) {
			return batch[i].msg.CreatedAt.Before(batch[j].msg.CreatedAt)
		}
		return batch[i].seq < batch[j].seq
	})
	msgs := make([]queue.Message, 0, len(batch))
	for _, l := range batch {
		msgs = append(msgs, l.msg)
	}
	return msgs, nil
}

// Acknowledge implements queue.Broker.
func (b *Broker) Acknowledge(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, b.table), id)
	return MapError(b.table, "acknowledge", err)
}

// Requeue implements queue.Broker.
func (b *Broker) Requeue(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET visible = TRUE WHERE id = $1`, b.table), id)
	if err != nil {
		return MapError(b.table, "requeue", err)
	}
	n, err := rowsAffected(res, b.table, "requeue")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", queue.ErrMessageNotFound, id, b.name)
	}
	return nil
}

// Count implements queue.Broker.
func (b *Broker) Count(ctx context.Context, visible bool) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE visible = $1`, b.table), visible).Scan(&n)
	if err != nil {
		return 0, MapError(b.table, "count", err)
	}
	return n, nil
}

// Lookup implements queue.Broker.
func (b *Broker) Lookup(ctx context.Context, id string) (queue.Message, error) {
	var (
		m       queue.Message
		message string
	)
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, message, visible, created_at FROM %s WHERE id = $1`, b.table), id).
		Scan(&m.ID, &message, &m.Visible, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Message{}, fmt.Errorf("%w: %s in %s", queue.ErrMessageNotFound, id, b.name)
	}
	if err != nil {
		return queue.Message{}, MapError(b.table, "lookup", err)
	}
	m.Payload = []byte(message)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
