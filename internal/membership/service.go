package membership

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the user store. Lookups of missing users return an
// error matching apperr.ErrNotFound; a second user with the same email
// is rejected with apperr.ErrConflict.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email Email) (*User, error)
	FindAll(ctx context.Context) ([]*User, error)
	Save(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RegisterUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

// Service defines the interface for the membership service.
type Service interface {
	RegisterUser(ctx context.Context, req RegisterUserRequest) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	RemoveUser(ctx context.Context, id uuid.UUID) error
}
