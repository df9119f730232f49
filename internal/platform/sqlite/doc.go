// Package sqlite implements the queue broker and task log store on SQLite
// using the pure-Go modernc.org/sqlite driver.
//
// Timestamps are stored as INTEGER unix nanoseconds and booleans as 0/1.
// Open limits the pool to a single connection, which serialises writers
// inside one process; across processes SQLite's database lock makes each
// leasing UPDATE atomic.
package sqlite
