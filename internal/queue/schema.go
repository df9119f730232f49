package queue

import (
	"fmt"
	"regexp"
)

var queueNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// ValidateName checks that a queue name is set and safe to embed in table
// and index names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: queue name is required", ErrConfiguration)
	}
	if !queueNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidQueueName, name)
	}
	return nil
}

// TableName returns the storage table for a queue.
func TableName(name string) string {
	return "queue_" + name
}

// IndexName returns the (created_at, visible) index name for a queue.
func IndexName(name string) string {
	return "IDX_created_at_visible_" + name
}
