package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/sqlqueue/internal/config"
	"github.com/phrazzld/sqlqueue/internal/events"
	"github.com/phrazzld/sqlqueue/internal/platform/postgres"
	"github.com/phrazzld/sqlqueue/internal/platform/redis"
	"github.com/phrazzld/sqlqueue/internal/platform/sqlite"
	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/service"
	"github.com/phrazzld/sqlqueue/internal/store"
	"github.com/phrazzld/sqlqueue/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  goredis.UniversalClient

	logs       store.TaskLogStore
	dispatcher *queue.Dispatcher
	registry   *task.Registry
	emitter    *events.InMemoryEventEmitter

	producer   *task.Producer
	worker     *task.Worker
	detector   *task.Detector
	reconciler *task.Reconciler
	tasks      service.TaskLogService
}

// newApplication connects to the configured backends and wires every
// component. The caller must call cleanup.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	var err error
	app.db, err = openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established", "driver", cfg.Database.Driver)

	if cfg.UsesBackend(config.BackendRedis) {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			app.cleanup()
			return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.redis = client
		logger.Info("redis connection established", "addr", cfg.Redis.Addr)
	}

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		app.logs = postgres.NewTaskLogStore(app.db)
	default:
		app.logs = sqlite.NewTaskLogStore(app.db)
	}

	app.dispatcher, err = app.buildDispatcher()
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.registry, err = task.NewRegistry(task.NewHTTPCallback(nil))
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(events.NewLoggingHandler(logger))

	app.producer = task.NewProducer(app.dispatcher, app.logs, app.registry, logger,
		task.WithTransactions(app.db),
		task.WithMaxDetail(cfg.Worker.MaxDetail))
	app.worker = task.NewWorker(app.dispatcher, app.logs, app.registry, task.WorkerConfig{
		Concurrency:  cfg.Worker.Concurrency,
		DequeueBatch: cfg.Worker.DequeueBatch,
		MaxDetail:    cfg.Worker.MaxDetail,
	}, logger)
	app.detector = task.NewDetector(app.dispatcher, app.logs, logger)
	app.reconciler = task.NewReconciler(app.dispatcher, app.logs, app.emitter, logger)

	app.tasks, err = service.NewTaskLogService(app.logs, app.emitter, cfg.Categories, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create task log service: %w", err)
	}

	logger.Debug("application initialized",
		"queues", app.dispatcher.Queues(),
		"task_types", app.registry.Types())
	return app, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, postgres.PoolConfig{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", queue.ErrConfiguration, cfg.Driver)
	}
}

func (app *application) buildDispatcher() (*queue.Dispatcher, error) {
	d := queue.NewDispatcher(app.config.DefaultQueue)

	for _, q := range app.config.Queues {
		var broker queue.Broker
		if !q.Sync {
			b, err := app.newBroker(q)
			if err != nil {
				return nil, fmt.Errorf("failed to create broker for queue %q: %w", q.Name, err)
			}
			broker = b
		}
		if err := d.Register(q.Name, broker, q.Sync); err != nil {
			return nil, err
		}
	}

	for taskType, queueName := range app.config.Routes {
		if err := d.Route(taskType, queueName); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (app *application) newBroker(q config.QueueConfig) (queue.Broker, error) {
	switch q.Backend {
	case config.BackendRedis:
		return redis.NewBroker(app.redis, app.config.Redis.KeyPrefix, q.Name)
	default:
		if app.config.Database.Driver == config.DriverPostgres {
			return postgres.NewBroker(app.db, q.Name)
		}
		return sqlite.NewBroker(app.db, q.Name)
	}
}

// migrate applies the task log migrations and defines the table of every
// database-backed queue.
func (app *application) migrate(ctx context.Context) (int64, error) {
	migrateFn, defineFn, versionFn := sqlite.Migrate, sqlite.DefineQueueSchema, sqlite.MigrationVersion
	if app.config.Database.Driver == config.DriverPostgres {
		migrateFn, defineFn, versionFn = postgres.Migrate, postgres.DefineQueueSchema, postgres.MigrationVersion
	}

	if err := migrateFn(ctx, app.db); err != nil {
		return 0, err
	}
	for _, q := range app.config.Queues {
		if q.Sync || q.Backend != config.BackendDatabase {
			continue
		}
		if err := defineFn(ctx, app.db, q.Name); err != nil {
			return 0, fmt.Errorf("failed to define queue %q: %w", q.Name, err)
		}
		app.logger.Info("queue table ready", "queue", q.Name)
	}
	return versionFn(ctx, app.db)
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}
