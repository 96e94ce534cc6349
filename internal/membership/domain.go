package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
)

// UserType selects the lending policy a user borrows under.
type UserType string

const (
	UserTypeStandard   UserType = "standard"
	UserTypePrivileged UserType = "privileged"
)

// ParseUserType accepts the known user types, case-insensitively.
func ParseUserType(raw string) (UserType, error) {
	switch t := UserType(strings.ToLower(strings.TrimSpace(raw))); t {
	case UserTypeStandard, UserTypePrivileged:
		return t, nil
	default:
		return "", apperr.Validation("unknown user type %q", raw)
	}
}

func (t UserType) String() string { return string(t) }

// User is a library member. Users do not change after registration.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     Email     `json:"email"`
	Type      UserType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser validates the name and builds a user.
func NewUser(id uuid.UUID, name string, email Email, userType UserType, createdAt time.Time) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if email.IsZero() {
		return nil, apperr.Validation("email is required")
	}
	if _, err := ParseUserType(string(userType)); err != nil {
		return nil, err
	}
	return &User{
		ID:        id,
		Name:      name,
		Email:     email,
		Type:      userType,
		CreatedAt: createdAt,
	}, nil
}

func (u *User) Clone() *User {
	c := *u
	return &c
}
