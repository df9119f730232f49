package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/sqlqueue/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := NewStoreError("task_log", "create", cause)

	assert.Equal(t, "create operation on task_log failed: disk full", err.Error())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsNotFoundError(err))
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"base", ErrNotFound, true},
		{"task log", ErrTaskLogNotFound, true},
		{"wrapped", fmt.Errorf("lookup: %w", ErrTaskLogNotFound), true},
		{"duplicate", ErrDuplicate, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFoundError(tt.err))
		})
	}
}

func TestErrInvalidTransitionIsDomainError(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, fmt.Errorf("x: %w", ErrInvalidTransition), domain.ErrInvalidTransition)
}
