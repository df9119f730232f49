// Package task runs queued work: it turns submitted descriptors into task
// logs and queue messages, drains queues in bounded batches, and finds and
// recovers tasks whose worker went away before acknowledging.
//
// A worker run is bounded by its limit and returns a Report; it is meant to
// be invoked repeatedly by an external scheduler rather than run forever.
package task
