package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/store"
)

// DefaultKeyPrefix namespaces queue keys when no prefix is configured.
const DefaultKeyPrefix = "sqlqueue"

// Scripts take the keys in the order returned by Broker.keys.
var enqueueScript = goredis.NewScript(`
local seq = redis.call('INCR', KEYS[5])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
return seq
`)

var leaseScript = goredis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1, 'WITHSCORES')
local out = {}
for i = 1, #ids, 2 do
	local id = ids[i]
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ids[i + 1], id)
	table.insert(out, id)
	table.insert(out, redis.call('HGET', KEYS[4], id) or '0')
	table.insert(out, redis.call('HGET', KEYS[3], id) or '')
end
return out
`)

var requeueScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if score then
	redis.call('ZREM', KEYS[2], ARGV[1])
	redis.call('ZADD', KEYS[1], score, ARGV[1])
	return 1
end
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 1
end
return 0
`)

// Broker is a queue.Broker on Redis.
type Broker struct {
	client  goredis.UniversalClient
	name    string
	visible string
	leased  string
	payload string
	created string
	seq     string
	now     func() time.Time
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker returns a broker for the named queue under keyPrefix.
func NewBroker(client goredis.UniversalClient, keyPrefix, name string) (*Broker, error) {
	if err := queue.ValidateName(name); err != nil {
		return nil, err
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	tag := fmt.Sprintf("{%s:%s}", keyPrefix, name)
	return &Broker{
		client:  client,
		name:    name,
		visible: tag + ":visible",
		leased:  tag + ":leased",
		payload: tag + ":payload",
		created: tag + ":created",
		seq:     tag + ":seq",
		now:     time.Now,
	}, nil
}

// Name implements queue.Broker.
func (b *Broker) Name() string { return b.name }

func (b *Broker) keys() []string {
	return []string{b.visible, b.leased, b.payload, b.created, b.seq}
}

// Enqueue implements queue.Broker. Messages are scored by a per-queue
// sequence, so dequeue order is enqueue order even within one microsecond.
func (b *Broker) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id := uuid.NewString()
	created := b.now().UnixMicro()
	if err := enqueueScript.Run(ctx, b.client, b.keys(), id, payload, created).Err(); err != nil {
		return "", store.NewStoreError(b.name, "enqueue", err)
	}
	return id, nil
}

// Dequeue implements queue.Broker.
func (b *Broker) Dequeue(ctx context.Context, max int) ([]queue.Message, error) {
	if max <= 0 {
		return []queue.Message{}, nil
	}
	res, err := leaseScript.Run(ctx, b.client, b.keys(), max).Slice()
	if err != nil {
		return nil, store.NewStoreError(b.name, "dequeue", err)
	}

	msgs := make([]queue.Message, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		id, _ := res[i].(string)
		micros, _ := res[i+1].(string)
		payload, _ := res[i+2].(string)
		created, err := parseMicros(micros)
		if err != nil {
			return nil, store.NewStoreError(b.name, "dequeue", err)
		}
		msgs = append(msgs, queue.Message{ID: id, Payload: []byte(payload), CreatedAt: created})
	}
	return msgs, nil
}

// Acknowledge implements queue.Broker.
func (b *Broker) Acknowledge(ctx context.Context, id string) error {
	_, err := b.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, b.leased, id)
		p.ZRem(ctx, b.visible, id)
		p.HDel(ctx, b.payload, id)
		p.HDel(ctx, b.created, id)
		return nil
	})
	if err != nil {
		return store.NewStoreError(b.name, "acknowledge", err)
	}
	return nil
}

// Requeue implements queue.Broker.
func (b *Broker) Requeue(ctx context.Context, id string) error {
	n, err := requeueScript.Run(ctx, b.client, b.keys(), id).Int()
	if err != nil {
		return store.NewStoreError(b.name, "requeue", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", queue.ErrMessageNotFound, id, b.name)
	}
	return nil
}

// Count implements queue.Broker.
func (b *Broker) Count(ctx context.Context, visible bool) (int, error) {
	key := b.leased
	if visible {
		key = b.visible
	}
	n, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, store.NewStoreError(b.name, "count", err)
	}
	return int(n), nil
}

// Lookup implements queue.Broker.
func (b *Broker) Lookup(ctx context.Context, id string) (queue.Message, error) {
	var (
		payloadCmd *goredis.StringCmd
		createdCmd *goredis.StringCmd
		visibleCmd *goredis.FloatCmd
	)
	_, err := b.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		payloadCmd = p.HGet(ctx, b.payload, id)
		createdCmd = p.HGet(ctx, b.created, id)
		visibleCmd = p.ZScore(ctx, b.visible, id)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return queue.Message{}, store.NewStoreError(b.name, "lookup", err)
	}

	payload, err := payloadCmd.Bytes()
	if errors.Is(err, goredis.Nil) {
		return queue.Message{}, fmt.Errorf("%w: %s in %s", queue.ErrMessageNotFound, id, b.name)
	}
	if err != nil {
		return queue.Message{}, store.NewStoreError(b.name, "lookup", err)
	}

	m := queue.Message{ID: id, Payload: payload}
	if _, err := visibleCmd.Result(); err == nil {
		m.Visible = true
	}
	if micros, err := createdCmd.Result(); err == nil {
		if m.CreatedAt, err = parseMicros(micros); err != nil {
			return queue.Message{}, store.NewStoreError(b.name, "lookup", err)
		}
	}
	return m, nil
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created time %q: %w", s, err)
	}
	return time.UnixMicro(n).UTC(), nil
}
