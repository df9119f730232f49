package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable Load reads, e.g.
// SQLQUEUE_DATABASE_URL for database.url.
const EnvPrefix = "SQLQUEUE"

// Options controls where Load looks for configuration.
type Options struct {
	// File is an optional YAML config file.
	File string

	// EnvFiles are loaded into the environment before anything is read.
	// Missing files are ignored and variables already set are kept.
	// Nil means ".env".
	EnvFiles []string

	// Flags, when set, override file and environment values for the flags
	// named in FlagKeys that are defined on the set.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-level":       "log.level",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"redis-addr":      "redis.addr",
	"limit":           "worker.limit",
	"stuck-threshold": "worker.stuck_threshold",
	"concurrency":     "worker.concurrency",
	"dequeue-batch":   "worker.dequeue_batch",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "file:sqlqueue.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "sqlqueue")

	v.SetDefault("worker.limit", 100)
	v.SetDefault("worker.stuck_threshold", "15m")
	v.SetDefault("worker.dequeue_batch", 1)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.max_detail", 2000)

	v.SetDefault("queues", []map[string]any{
		{"name": "default", "backend": BackendDatabase},
	})
	v.SetDefault("default_queue", "default")
}

// Load reads configuration from defaults, an optional YAML file, the
// environment and finally flags, each overriding the one before, and
// validates the result.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.File, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	for i := range cfg.Queues {
		if cfg.Queues[i].Backend == "" {
			cfg.Queues[i].Backend = BackendDatabase
		}
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
