package repository

import (
	"context"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

// EventPublisher hands an event to the external event channel.
// Implementations must not wait for broker acknowledgement.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev entity.UserEvent) error
}
