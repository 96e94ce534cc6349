package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/platform/database"
)

const usersTable = "users"

var userColumns = []interface{}{"id", "name", "email", "type", "created_at"}

type userRow struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toDomain() (*User, error) {
	email, err := NewEmail(r.Email)
	if err != nil {
		return nil, fmt.Errorf("stored user %s: %w", r.ID, err)
	}
	userType, err := ParseUserType(r.Type)
	if err != nil {
		return nil, fmt.Errorf("stored user %s: %w", r.ID, err)
	}
	return NewUser(r.ID, r.Name, email, userType, r.CreatedAt)
}

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		tracer: otel.Tracer("lendinghub/membership/postgres"),
	}
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, span := r.tracer.Start(ctx, "users.find_by_id",
		trace.WithAttributes(attribute.String("user.id", id.String())),
	)
	defer span.End()

	user, err := r.getOne(ctx, goqu.C("id").Eq(id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user", id)
	}
	return user, err
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email Email) (*User, error) {
	ctx, span := r.tracer.Start(ctx, "users.find_by_email")
	defer span.End()

	user, err := r.getOne(ctx, goqu.C("email").Eq(email.Value()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user with email", email)
	}
	return user, err
}

func (r *PostgresRepository) getOne(ctx context.Context, where goqu.Expression) (*User, error) {
	query, args, err := database.Dialect.From(usersTable).
		Select(userColumns...).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toDomain()
}

func (r *PostgresRepository) FindAll(ctx context.Context) ([]*User, error) {
	ctx, span := r.tracer.Start(ctx, "users.find_all")
	defer span.End()

	query, args, err := database.Dialect.From(usersTable).
		Select(userColumns...).
		Order(goqu.C("created_at").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*User, 0, len(rows))
	for _, row := range rows {
		user, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (r *PostgresRepository) Save(ctx context.Context, user *User) error {
	ctx, span := r.tracer.Start(ctx, "users.save",
		trace.WithAttributes(attribute.String("user.id", user.ID.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.Insert(usersTable).
		Rows(goqu.Record{
			"id":         user.ID.String(),
			"name":       user.Name,
			"email":      user.Email.Value(),
			"type":       user.Type.String(),
			"created_at": user.CreatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("user with email %s already exists", user.Email)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update replaces the stored user row.
func (r *PostgresRepository) Update(ctx context.Context, user *User) error {
	ctx, span := r.tracer.Start(ctx, "users.update",
		trace.WithAttributes(attribute.String("user.id", user.ID.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.Update(usersTable).
		Set(goqu.Record{
			"name":  user.Name,
			"email": user.Email.Value(),
			"type":  user.Type.String(),
		}).
		Where(goqu.C("id").Eq(user.ID.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("user with email %s already exists", user.Email)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("user", user.ID)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "users.delete",
		trace.WithAttributes(attribute.String("user.id", id.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.Delete(usersTable).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.Conflict("user %s has loan history", id)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}
