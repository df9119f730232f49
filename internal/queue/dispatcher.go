package queue

import (
	"fmt"
	"sync"
)

type registeredQueue struct {
	name   string
	sync   bool
	broker Broker
}

// Dispatcher resolves queue names to brokers and task types to queues.
// A queue registered as sync has no broker: tasks routed to it run inline.
type Dispatcher struct {
	mu           sync.RWMutex
	queues       map[string]*registeredQueue
	order        []string
	routes       map[string]string
	defaultQueue string
}

// NewDispatcher creates an empty dispatcher. Task types without an explicit
// route go to defaultQueue, which must be registered before QueueFor is used.
func NewDispatcher(defaultQueue string) *Dispatcher {
	return &Dispatcher{
		queues:       make(map[string]*registeredQueue),
		routes:       make(map[string]string),
		defaultQueue: defaultQueue,
	}
}

// Register adds a queue. Async queues require a broker serving the same name.
func (d *Dispatcher) Register(name string, broker Broker, sync bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !sync {
		if broker == nil {
			return fmt.Errorf("%w: queue %q has no broker", ErrConfiguration, name)
		}
		if broker.Name() != name {
			return fmt.Errorf("%w: broker for %q serves %q", ErrConfiguration, name, broker.Name())
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.queues[name]; exists {
		return fmt.Errorf("%w: queue %q registered twice", ErrConfiguration, name)
	}
	d.queues[name] = &registeredQueue{name: name, sync: sync, broker: broker}
	d.order = append(d.order, name)
	return nil
}

// Route sends every task of taskType to queueName.
func (d *Dispatcher) Route(taskType, queueName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.queues[queueName]; !ok {
		return fmt.Errorf("%w: %q (route for %q)", ErrUnknownQueue, queueName, taskType)
	}
	d.routes[taskType] = queueName
	return nil
}

// Broker returns the broker for an async queue.
func (d *Dispatcher) Broker(queueName string) (Broker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q, ok := d.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	if q.sync {
		return nil, fmt.Errorf("%w: %q", ErrSyncQueue, queueName)
	}
	return q.broker, nil
}

// IsSync reports whether queueName runs its tasks inline.
func (d *Dispatcher) IsSync(queueName string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q, ok := d.queues[queueName]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	return q.sync, nil
}

// QueueFor returns the queue a task type is routed to.
func (d *Dispatcher) QueueFor(taskType string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if name, ok := d.routes[taskType]; ok {
		return name, nil
	}
	if _, ok := d.queues[d.defaultQueue]; !ok {
		return "", fmt.Errorf("%w: no route for %q and no default queue", ErrConfiguration, taskType)
	}
	return d.defaultQueue, nil
}

// IsSyncTask reports whether tasks of taskType bypass the queue.
func (d *Dispatcher) IsSyncTask(taskType string) (bool, error) {
	name, err := d.QueueFor(taskType)
	if err != nil {
		return false, err
	}
	return d.IsSync(name)
}

// Queues returns every registered queue name in registration order.
func (d *Dispatcher) Queues() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// AsyncQueues returns the names of queues that have a broker, in
// registration order.
func (d *Dispatcher) AsyncQueues() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, name := range d.order {
		if !d.queues[name].sync {
			out = append(out, name)
		}
	}
	return out
}
