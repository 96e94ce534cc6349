package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/platform/logging"
)

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a new membership service instance.
func NewService(repo Repository, logger *slog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With("component", "membership"),
		tracer: otel.Tracer("lendinghub/membership"),
		now:    time.Now,
	}
}

// RegisterUser creates a new member. An empty type means standard.
func (s *service) RegisterUser(ctx context.Context, req RegisterUserRequest) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_user")
	defer span.End()

	email, err := NewEmail(req.Email)
	if err != nil {
		return nil, err
	}
	userType := UserTypeStandard
	if req.Type != "" {
		if userType, err = ParseUserType(req.Type); err != nil {
			return nil, err
		}
	}

	user, err := NewUser(uuid.New(), req.Name, email, userType, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("user with email %s already exists", email)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	if err := s.repo.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	span.SetAttributes(
		attribute.String("user.id", user.ID.String()),
		attribute.String("user.type", user.Type.String()),
	)
	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID,
		"email", logging.RedactEmail(email.Value()),
		"type", user.Type,
	)
	return user, nil
}

// GetUser retrieves a member by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.FindAll(ctx)
}

// RemoveUser deletes a member. Members with loan history are kept by
// the store's foreign keys and come back as a conflict.
func (s *service) RemoveUser(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "membership.remove_user",
		trace.WithAttributes(attribute.String("user.id", id.String())),
	)
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user removed", "user_id", id)
	return nil
}
