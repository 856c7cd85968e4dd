package entity

import (
	"time"

	"github.com/google/uuid"
)

// Operation tags a lifecycle change announced to external consumers.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationDelete Operation = "DELETE"
)

// UserEvent is the notification handed to the event channel.
// ID and OccurredAt form the delivery envelope; consumers dedupe on ID.
type UserEvent struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Operation  Operation `json:"operation"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewUserEvent(email string, op Operation, at time.Time) UserEvent {
	return UserEvent{
		ID:         uuid.NewString(),
		Email:      email,
		Operation:  op,
		OccurredAt: at.UTC(),
	}
}

// Key is the partition/routing key for the event.
func (e UserEvent) Key() string { return e.Email }

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxLeased    OutboxStatus = "leased"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxEvent is a UserEvent stored in the same transaction as the user mutation
// and relayed to the event channel later.
type OutboxEvent struct {
	Event         UserEvent
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LeaseUntil    time.Time
	LastError     string
	DeliveredAt   time.Time
}
