package entity

import (
	"time"
)

// User is the aggregate root for the directory.
// ID is assigned by the store on first save and never changes afterwards.
// CreatedAt is set once by the lifecycle service.
type User struct {
	ID        string
	Name      string
	Email     string
	Age       int
	CreatedAt time.Time
}

// IsNew reports whether the user has not been persisted yet.
func (u *User) IsNew() bool { return u.ID == "" }
