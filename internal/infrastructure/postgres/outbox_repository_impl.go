package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/domain/repository"
)

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, events []entity.UserEvent) error {
	for _, ev := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_outbox (id, email, operation, occurred_at, status, next_attempt_at)
			VALUES ($1, $2, $3, $4, $5, $4)
		`, ev.ID, ev.Email, string(ev.Operation), ev.OccurredAt, string(entity.OutboxPending))
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// leaseLockKey serializes Lease across relays so every lease sees the
// previous one committed.
const leaseLockKey = 7301

// Lease claims due rows in occurred_at order. A row is skipped while an earlier
// row for the same email is still leased or waiting out a backoff.
func (r *OutboxRepository) Lease(ctx context.Context, limit int, now time.Time, ttl time.Duration) ([]entity.OutboxEvent, error) {
	var leased []entity.OutboxEvent
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, leaseLockKey); err != nil {
			return fmt.Errorf("lock outbox lease: %w", err)
		}
		rows, err := tx.Query(ctx, `
			UPDATE user_outbox
			SET status = $1, lease_until = $2
			WHERE id IN (
				SELECT o.id FROM user_outbox o
				WHERE ((o.status = $3 AND o.next_attempt_at <= $4)
				    OR (o.status = $1 AND o.lease_until <= $4))
				  AND NOT EXISTS (
					SELECT 1 FROM user_outbox p
					WHERE p.email = o.email
					  AND (p.occurred_at, p.created_at) < (o.occurred_at, o.created_at)
					  AND ((p.status = $3 AND p.next_attempt_at > $4)
					    OR (p.status = $1 AND p.lease_until > $4))
				  )
				ORDER BY o.occurred_at, o.created_at
				LIMIT $5
				FOR UPDATE
			)
			RETURNING id, email, operation, occurred_at, status, attempts, next_attempt_at,
			          lease_until, COALESCE(last_error, '')
		`, string(entity.OutboxLeased), now.Add(ttl), string(entity.OutboxPending), now, limit)
		if err != nil {
			return fmt.Errorf("lease outbox events: %w", err)
		}
		leased, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.OutboxEvent, error) {
			var (
				o      entity.OutboxEvent
				op     string
				status string
			)
			err := row.Scan(&o.Event.ID, &o.Event.Email, &op, &o.Event.OccurredAt, &status,
				&o.Attempts, &o.NextAttemptAt, &o.LeaseUntil, &o.LastError)
			o.Event.Operation = entity.Operation(op)
			o.Status = entity.OutboxStatus(status)
			return o, err
		})
		if err != nil {
			return fmt.Errorf("scan leased outbox events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// RETURNING has no defined order; keep per-key ordering stable.
	sort.SliceStable(leased, func(i, j int) bool {
		return leased[i].Event.OccurredAt.Before(leased[j].Event.OccurredAt)
	})
	return leased, nil
}

func (r *OutboxRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE user_outbox
		SET status = $2, delivered_at = $3, lease_until = NULL
		WHERE id = $1
	`, id, string(entity.OutboxDelivered), at)
	if err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, reason string, next time.Time, dead bool) error {
	status := entity.OutboxPending
	if dead {
		status = entity.OutboxDead
	}
	res, err := r.pool.Exec(ctx, `
		UPDATE user_outbox
		SET status = $2, attempts = attempts + 1, last_error = $3,
		    next_attempt_at = $4, lease_until = NULL
		WHERE id = $1
	`, id, string(status), reason, next)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *OutboxRepository) Release(ctx context.Context, id string) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE user_outbox
		SET status = $2, lease_until = NULL
		WHERE id = $1 AND status = $3
	`, id, string(entity.OutboxPending), string(entity.OutboxLeased))
	if err != nil {
		return fmt.Errorf("release outbox event: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)
