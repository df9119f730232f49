package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Descriptor is the serialized form of one task: the queue message payload
// and the task log's stored payload.
type Descriptor struct {
	TaskID    uuid.UUID       `json:"task_id" validate:"required"`
	Type      string          `json:"type" validate:"required,max=64"`
	UserID    uuid.UUID       `json:"user_id" validate:"required"`
	Label     string          `json:"label" validate:"max=255"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the descriptor's required fields.
func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if len(d.Params) > 0 && !json.Valid(d.Params) {
		return fmt.Errorf("%w: params are not valid JSON", ErrInvalidDescriptor)
	}
	return nil
}

// Encode validates and serializes the descriptor.
func (d Descriptor) Encode() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// DecodeDescriptor parses and validates a serialized descriptor.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// DecodeParams unmarshals the descriptor's params into v.
func (d Descriptor) DecodeParams(v any) error {
	if len(d.Params) == 0 {
		return fmt.Errorf("%w: params are empty", ErrInvalidDescriptor)
	}
	if err := json.Unmarshal(d.Params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}
