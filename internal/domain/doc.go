// Package domain contains the task log entity, its lifecycle rules, and the
// structured record capability used when entities leave the process (events,
// command output). It has no knowledge of queues or storage engines.
package domain
