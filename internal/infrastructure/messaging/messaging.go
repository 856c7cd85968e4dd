// Package messaging carries user events between the directory and its consumers
// over RabbitMQ or Redis Streams.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

// ErrChannelClosed is returned by a consumer whose broker channel went away.
var ErrChannelClosed = errors.New("event channel closed")

// Handler processes one event. Return a Drop error for poison messages.
type Handler func(ctx context.Context, ev entity.UserEvent) error

type dropError struct{ err error }

func (e *dropError) Error() string { return fmt.Sprintf("drop: %v", e.err) }
func (e *dropError) Unwrap() error { return e.err }

// Drop marks err as permanent: the message is discarded instead of retried.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return &dropError{err: err}
}

func IsDrop(err error) bool {
	var d *dropError
	return errors.As(err, &d)
}
