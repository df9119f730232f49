// Package queue defines the durable message queue contract shared by every
// storage backend: a Message with a visibility flag, the Broker operations
// that lease and release messages, the naming rules for per-queue storage,
// and the Dispatcher that resolves queue names and task types to brokers.
//
// Leasing is a compare-and-swap on the visibility flag. A message that is
// leased and never acknowledged stays invisible until it is requeued; the
// task package's stuck-task detector exists to find those.
package queue
