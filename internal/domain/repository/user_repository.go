package repository

import (
	"context"
	"errors"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a write violates the unique email constraint.
	ErrDuplicateEmail = errors.New("duplicate email")
)

// UserRepository defines the record store consumed by the lifecycle service.
//
// Save inserts when u.ID is empty and updates otherwise; on insert it assigns u.ID.
// Events passed to Save and DeleteByID are written to the outbox in the same
// transaction as the mutation. DeleteByID of an unknown id is a no-op.
type UserRepository interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindAll(ctx context.Context) ([]entity.User, error)
	Save(ctx context.Context, u *entity.User, events ...entity.UserEvent) error
	DeleteByID(ctx context.Context, id string, events ...entity.UserEvent) error
}
