// Package redis implements queue.Broker on Redis.
//
// A queue is a set of keys sharing one hash tag: a sorted set of visible
// message ids and a sorted set of leased ids, both scored by a per-queue
// sequence counter, plus hashes of payloads and enqueue times. Enqueueing,
// leasing and requeueing run as Lua scripts so each move is atomic.
package redis
