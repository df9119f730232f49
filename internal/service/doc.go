// Package service contains the application-facing use cases over the task
// log. It is the surface an API or controller layer consumes: listing a
// user's tasks with derived counts, fetching one task with an ownership
// check, archiving, and per-user statistics.
//
// Services receive their store, event emitter and logger through constructor
// injection and translate store errors into the package's sentinel errors so
// callers can branch with errors.Is.
package service
