package queue

import "time"

// Message is one enqueued unit of work.
type Message struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
}

// State describes where a message is in its lease lifecycle.
type State string

const (
	// StateVisible means the message is waiting to be leased.
	StateVisible State = "visible"
	// StateLeased means a worker flipped the message invisible and has not
	// acknowledged or requeued it.
	StateLeased State = "leased"
	// StateMissing means the message no longer exists in its queue.
	StateMissing State = "missing"
)

// StateOf classifies a message.
func StateOf(m Message) State {
	if m.Visible {
		return StateVisible
	}
	return StateLeased
}
