package sqlite

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
		fmt.Sprintf(`INSERT INTO %s (id, message, visible, created_at) VALUES (?, ?, 1, ?)`, b.table),
		id, string(payload), toNanos(b.now()))
	if err != nil {
		return "", mapError(b.table, "enqueue", err)
	}
	return id, nil
}

// Dequeue implements queue.Broker. Selection and the visibility flip are one
// UPDATE statement, so a row can only be flipped by one caller.
func (b *Broker) Dequeue(ctx context.Context, max int) ([]queue.Message, error) {
	if max <= 0 {
		return []queue.Message{}, nil
	}

	query := fmt.Sprintf(`
UPDATE %[1]s SET visible = 0
WHERE visible = 1 AND id IN (
	SELECT id FROM %[1]s WHERE visible = 1 ORDER BY created_at ASC, rowid ASC LIMIT ?
)
RETURNING id, message, created_at, rowid`, b.table)

	rows, err := b.db.QueryContext(ctx, query, max)
	if err != nil {
		return nil, mapError(b.table, "dequeue", err)
	}
	defer func() { _ = rows.Close() }()

	type leased struct {
		msg   queue.Message
		rowid int64
	}
	var out []leased
	for rows.Next() {
		var (
			l       leased
			message string
			created int64
		)
		if err := rows.Scan(&l.msg.ID, &message, &created, &l.rowid); err != nil {
			return nil, mapError(b.table, "dequeue", err)
		}
		l.msg.Payload = []byte(message)
		l.msg.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(b.table, "dequeue", err)
	}

	// RETURNING order is unspecified.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].msg.CreatedAt.Equal(out[j].msg.CreatedAt) {
			return out[i].msg.CreatedAt.Before(out[j].msg.CreatedAt)
		}
		return out[i].rowid < out[j].rowid
	})
	msgs := make([]queue.Message, len(out))
	for i, l := range out {
		msgs[i] = l.msg
	}
	return msgs, nil
}

// Acknowledge implements queue.Broker.
func (b *Broker) Acknowledge(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, b.table), id)
	return mapError(b.table, "acknowledge", err)
}

// Requeue implements queue.Broker.
func (b *Broker) Requeue(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET visible = 1 WHERE id = ?`, b.table), id)
	if err != nil {
		return mapError(b.table, "requeue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(b.table, "requeue", err)
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
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE visible = ?`, b.table), boolInt(visible)).Scan(&n)
	if err != nil {
		return 0, mapError(b.table, "count", err)
	}
	return n, nil
}

// Lookup implements queue.Broker.
func (b *Broker) Lookup(ctx context.Context, id string) (queue.Message, error) {
	var (
		m       queue.Message
		message string
		visible int
		created int64
	)
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, message, visible, created_at FROM %s WHERE id = ?`, b.table), id).
		Scan(&m.ID, &message, &visible, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Message{}, fmt.Errorf("%w: %s in %s", queue.ErrMessageNotFound, id, b.name)
	}
	if err != nil {
		return queue.Message{}, mapError(b.table, "lookup", err)
	}
	m.Payload = []byte(message)
	m.Visible = visible == 1
	m.CreatedAt = fromNanos(created)
	return m, nil
}
