package config

import (
	"fmt"
	"time"
)

// Queue backends.
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"

	// BackendMemory keeps messages in the process. Every command is a
	// separate process, so configuration rejects it for async queues; the
	// in-memory broker is only for embedding the queue packages directly.
	BackendMemory = "memory"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`

	// Queues lists every queue in the order workers drain them.
	Queues []QueueConfig `mapstructure:"queues" validate:"required,min=1,dive"`

	// Routes sends a task type to a named queue. Unrouted types go to
	// DefaultQueue.
	Routes       map[string]string `mapstructure:"routes"`
	DefaultQueue string            `mapstructure:"default_queue" validate:"required"`

	// Categories maps task types to the category shown on task records.
	Categories map[string]string `mapstructure:"categories"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn warning error"`
}

// DatabaseConfig contains the task log and SQL queue database settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig contains settings for queues with the redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// WorkerConfig contains worker and stuck task detection settings.
type WorkerConfig struct {
	Limit          int           `mapstructure:"limit" validate:"gt=0"`
	StuckThreshold time.Duration `mapstructure:"stuck_threshold" validate:"gt=0"`
	DequeueBatch   int           `mapstructure:"dequeue_batch" validate:"gt=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gt=0"`
	MaxDetail      int           `mapstructure:"max_detail" validate:"gte=0"`
}

// QueueConfig declares one queue.
type QueueConfig struct {
	Name string `mapstructure:"name" validate:"required"`

	// Sync queues run their tasks inline at submit time and have no storage.
	Sync bool `mapstructure:"sync"`

	// Backend selects the broker for async queues. Defaults to database.
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=database redis memory"`
}

// Queue returns the named queue's configuration.
func (c *Config) Queue(name string) (QueueConfig, bool) {
	for _, q := range c.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// UsesBackend reports whether any async queue uses backend.
func (c *Config) UsesBackend(backend string) bool {
	for _, q := range c.Queues {
		if !q.Sync && q.Backend == backend {
			return true
		}
	}
	return false
}

// check validates rules that span fields.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if seen[q.Name] {
			return fmt.Errorf("queue %q is declared twice", q.Name)
		}
		seen[q.Name] = true
	}
	if !seen[c.DefaultQueue] {
		return fmt.Errorf("default_queue %q is not a declared queue", c.DefaultQueue)
	}
	for taskType, q := range c.Routes {
		if !seen[q] {
			return fmt.Errorf("route for %q targets undeclared queue %q", taskType, q)
		}
	}
	for _, q := range c.Queues {
		if !q.Sync && q.Backend == BackendMemory {
			return fmt.Errorf("queue %q: the memory backend loses messages when the command exits", q.Name)
		}
	}
	if c.UsesBackend(BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a queue uses the redis backend")
	}
	return nil
}
