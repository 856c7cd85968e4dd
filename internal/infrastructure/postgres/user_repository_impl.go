package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/domain/repository"
)

const (
	uniqueViolation      = "23505"
	usersEmailConstraint = "users_email_key"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists by email: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	// ids are UUIDs; anything else cannot match and would fail the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, age, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, age, created_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func (r *UserRepository) FindAll(ctx context.Context) ([]entity.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, age, created_at
		FROM users
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("find all users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.User, error) {
		var u entity.User
		err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Age, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	if users == nil {
		users = []entity.User{}
	}
	return users, nil
}

// Save inserts or updates u and appends events to the outbox in one transaction.
// created_at is written on insert only.
func (r *UserRepository) Save(ctx context.Context, u *entity.User, events ...entity.UserEvent) error {
	inserting := u.IsNew()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if inserting {
			row := tx.QueryRow(ctx, `
				INSERT INTO users (name, email, age, created_at)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, u.Name, u.Email, u.Age, u.CreatedAt)
			if err := row.Scan(&u.ID); err != nil {
				return err
			}
		} else {
			res, err := tx.Exec(ctx, `
				UPDATE users
				SET name = $1, email = $2, age = $3
				WHERE id = $4
			`, u.Name, u.Email, u.Age, u.ID)
			if err != nil {
				return err
			}
			if res.RowsAffected() == 0 {
				return repository.ErrNotFound
			}
		}
		return insertOutbox(ctx, tx, events)
	})
	if err != nil && inserting {
		u.ID = ""
	}
	return translate(err)
}

// DeleteByID is idempotent: a missing row is not an error.
func (r *UserRepository) DeleteByID(ctx context.Context, id string, events ...entity.UserEvent) error {
	_, parseErr := uuid.Parse(id)
	if parseErr != nil && len(events) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if parseErr == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
				return err
			}
		}
		return insertOutbox(ctx, tx, events)
	})
	return translate(err)
}

func scanUser(row pgx.Row) (*entity.User, error) {
	u := &entity.User{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Age, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func translate(err error) error {
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == usersEmailConstraint {
		return repository.ErrDuplicateEmail
	}
	return err
}

var _ repository.UserRepository = (*UserRepository)(nil)
