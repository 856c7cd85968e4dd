package messaging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

func TestDrop(t *testing.T) {
	cause := errors.New("bad template")

	assert.Nil(t, Drop(nil))
	assert.True(t, IsDrop(Drop(cause)))
	assert.True(t, IsDrop(fmt.Errorf("handler: %w", Drop(cause))))
	assert.ErrorIs(t, Drop(cause), cause)
	assert.False(t, IsDrop(cause))
}

func TestDecodeStreamMessage(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"key":   "ann@x.com",
		"event": `{"id":"e1","email":"ann@x.com","operation":"DELETE","occurred_at":"2026-03-01T12:00:00Z"}`,
	}}
	ev, err := decodeStreamMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, entity.OperationDelete, ev.Operation)
	assert.Equal(t, "ann@x.com", ev.Key())

	_, err = decodeStreamMessage(redis.XMessage{ID: "2-0", Values: map[string]interface{}{"key": "x"}})
	assert.Error(t, err)

	_, err = decodeStreamMessage(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"event": "{"}})
	assert.Error(t, err)
}
