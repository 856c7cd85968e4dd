package application

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrStorage             = errors.New("storage failure")
	ErrExportNotConfigured = errors.New("export not configured")
	ErrUndeliverable       = errors.New("notification undeliverable")
)

// NotFoundError reports a lookup by id or by email that matched nothing.
// Exactly one of ID and Email is set.
type NotFoundError struct {
	ID    string
	Email string
}

func (e *NotFoundError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("user with email %q not found", e.Email)
	}
	return fmt.Sprintf("user %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrUserNotFound }

// ConflictError reports a create or update that would duplicate an email.
type ConflictError struct {
	Email string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user with email %q already exists", e.Email)
}

func (e *ConflictError) Is(target error) bool { return target == ErrEmailTaken }

// StorageError wraps an unexpected record store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
