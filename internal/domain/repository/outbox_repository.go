package repository

import (
	"context"
	"time"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

// OutboxRepository is the relay's view of the outbox table.
type OutboxRepository interface {
	// Lease claims up to limit due events (pending, or leased with an expired lease)
	// until now+ttl, oldest first. Concurrent relays never receive the same row, and
	// a row is withheld while an earlier row for the same email is still leased or
	// waiting for its next attempt.
	Lease(ctx context.Context, limit int, now time.Time, ttl time.Duration) ([]entity.OutboxEvent, error)
	// Release hands a leased row back as pending without counting an attempt.
	Release(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed attempt and reschedules it at next.
	// When dead is true the row is parked and never leased again.
	MarkFailed(ctx context.Context, id string, reason string, next time.Time, dead bool) error
}
