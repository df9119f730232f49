// Package store defines the persistence contract for task logs, the shared
// error taxonomy used by every storage backend, and transaction helpers.
// Implementations live under internal/platform.
package store
