package queue_test

import (
	"testing"

	"github.com/phrazzld/sqlqueue/internal/queue"
	"github.com/phrazzld/sqlqueue/internal/queue/queuetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Broker {
		b, err := queue.NewMemoryBroker("default")
		require.NoError(t, err)
		return b
	})
}

func TestNewMemoryBroker_InvalidName(t *testing.T) {
	_, err := queue.NewMemoryBroker("")
	assert.ErrorIs(t, err, queue.ErrConfiguration)

	_, err = queue.NewMemoryBroker("Bad-Name")
	assert.ErrorIs(t, err, queue.ErrInvalidQueueName)
	assert.ErrorIs(t, err, queue.ErrConfiguration)
}
