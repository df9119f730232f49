package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	// TypeTaskArchived is emitted when a task log is archived.
	TypeTaskArchived = "task.archived"
	// TypeTaskRecovered is emitted when a stuck task is requeued or force-failed.
	TypeTaskRecovered = "task.recovered"
)

// Recovery actions carried by task.recovered events.
const (
	ActionRequeued = "requeued"
	ActionFailed   = "failed"
)

// Event is a structured notification about one task.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// TaskID is the task log the event is about
	TaskID uuid.UUID `json:"task_id"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// ArchivedPayload is the payload of a task.archived event.
type ArchivedPayload struct {
	Task   map[string]any `json:"task"`
	Forced bool           `json:"forced"`
}

// RecoveredPayload is the payload of a task.recovered event.
type RecoveredPayload struct {
	Task      map[string]any `json:"task"`
	Action    string         `json:"action"`
	Queue     string         `json:"queue"`
	MessageID string         `json:"message_id,omitempty"`
	State     string         `json:"state"`
	Reason    string         `json:"reason,omitempty"`
}

// NewEvent creates an event with the given type and payload.
func NewEvent(eventType string, taskID uuid.UUID, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
