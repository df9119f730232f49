// Package db provides database helpers for tests: migrated SQLite in-memory
// databases for unit tests, a Postgres database for integration tests gated
// on DATABASE_URL, and rollback-only transactions for isolation.
package db
