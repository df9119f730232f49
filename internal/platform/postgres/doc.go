// Package postgres implements the queue broker and task log store on
// PostgreSQL through the pgx stdlib driver.
//
// Leasing uses a single UPDATE over a SELECT ... FOR UPDATE SKIP LOCKED
// subquery, so concurrent workers in any number of processes never flip
// the same row.
package postgres
