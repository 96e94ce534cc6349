package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/circulation"
	"lendinghub/internal/membership"
)

// UserRepository implements membership.Repository.
type UserRepository struct {
	s *Store
}

var _ membership.Repository = (*UserRepository)(nil)

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return user.Clone(), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email membership.Email) (*membership.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, user := range r.s.users {
		if user.Email == email {
			return user.Clone(), nil
		}
	}
	return nil, apperr.NotFound("user with email", email)
}

func (r *UserRepository) FindAll(ctx context.Context) ([]*membership.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make([]*membership.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user.Clone())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID.String() < users[j].ID.String()
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (r *UserRepository) Save(ctx context.Context, user *membership.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return apperr.Conflict("user %s already exists", user.ID)
	}
	if r.emailTaken(user) {
		return apperr.Conflict("user with email %s already exists", user.Email)
	}
	r.s.users[user.ID] = user.Clone()
	return nil
}

func (r *UserRepository) Update(ctx context.Context, user *membership.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; !ok {
		return apperr.NotFound("user", user.ID)
	}
	if r.emailTaken(user) {
		return apperr.Conflict("user with email %s already exists", user.Email)
	}
	r.s.users[user.ID] = user.Clone()
	return nil
}

func (r *UserRepository) emailTaken(user *membership.User) bool {
	for id, other := range r.s.users {
		if id != user.ID && other.Email == user.Email {
			return true
		}
	}
	return false
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return apperr.NotFound("user", id)
	}
	if r.s.hasLoans(func(l *circulation.Loan) bool { return l.UserID == id }) {
		return apperr.Conflict("user %s has loan history", id)
	}
	delete(r.s.users, id)
	return nil
}
