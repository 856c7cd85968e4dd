package application

import (
	"time"

	"github.com/oksasatya/user-directory/internal/domain/entity"
)

// UserView is the read-only projection returned to callers.
type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       int       `json:"age"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateUserInput struct {
	Name  string
	Email string
	Age   int
}

// UpdateUserInput carries the mutable fields. Zero values mean "keep".
type UpdateUserInput struct {
	Name  string
	Email string
	Age   int
}

func toView(u *entity.User) UserView {
	return UserView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Age:       u.Age,
		CreatedAt: u.CreatedAt,
	}
}

func toViews(users []entity.User) []UserView {
	out := make([]UserView, 0, len(users))
	for i := range users {
		out = append(out, toView(&users[i]))
	}
	return out
}
