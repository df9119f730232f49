// Package events carries structured task lifecycle notifications from the
// task log and the reconciler to whoever registers a handler.
package events
