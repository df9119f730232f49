// Package config loads the queue configuration: database and Redis
// connections, worker limits, the declared queues with their backends, and
// the routes from task types to queues. Values come from defaults, an
// optional YAML file, SQLQUEUE_* environment variables (with .env support)
// and command-line flags, and are validated before use.
package config
