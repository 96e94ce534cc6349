package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/database"
)

const loansTable = "loans"

var loanColumns = []interface{}{
	"id", "book_id", "user_id", "loan_date", "expected_return_date",
	"return_date", "status", "user_type", "version",
}

type loanRow struct {
	ID                 uuid.UUID    `db:"id"`
	BookID             uuid.UUID    `db:"book_id"`
	UserID             uuid.UUID    `db:"user_id"`
	LoanDate           time.Time    `db:"loan_date"`
	ExpectedReturnDate time.Time    `db:"expected_return_date"`
	ReturnDate         sql.NullTime `db:"return_date"`
	Status             string       `db:"status"`
	UserType           string       `db:"user_type"`
	Version            int          `db:"version"`
}

func (r loanRow) toDomain() (*Loan, error) {
	userType, err := membership.ParseUserType(r.UserType)
	if err != nil {
		return nil, fmt.Errorf("stored loan %s: %w", r.ID, err)
	}
	state := LoanState{
		ID:                 r.ID,
		BookID:             r.BookID,
		UserID:             r.UserID,
		LoanDate:           r.LoanDate,
		ExpectedReturnDate: r.ExpectedReturnDate,
		Status:             LoanStatus(r.Status),
		UserType:           userType,
		Version:            r.Version,
	}
	if r.ReturnDate.Valid {
		state.ReturnDate = &r.ReturnDate.Time
	}
	loan, err := RestoreLoan(state)
	if err != nil {
		return nil, fmt.Errorf("stored loan %s: %w", r.ID, err)
	}
	return loan, nil
}

// PostgresRepository stores loans in the loans table.
type PostgresRepository struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		tracer: otel.Tracer("lendinghub/circulation/postgres"),
		now:    time.Now,
	}
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_by_id",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	query, args, err := r.selectLoans(goqu.C("id").Eq(id.String())).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}

	var row loanRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("loan", id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return row.toDomain()
}

func (r *PostgresRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_by_user")
	defer span.End()

	return r.selectMany(ctx, goqu.C("user_id").Eq(userID.String()))
}

func (r *PostgresRepository) FindActiveByUserID(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_active_by_user")
	defer span.End()

	return r.selectMany(ctx,
		goqu.C("user_id").Eq(userID.String()),
		goqu.C("status").Eq(string(StatusActive)),
	)
}

func (r *PostgresRepository) FindOverdueByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_overdue_by_user")
	defer span.End()

	return r.selectMany(ctx,
		goqu.C("user_id").Eq(userID.String()),
		goqu.C("status").Eq(string(StatusActive)),
		goqu.C("expected_return_date").Lt(now),
	)
}

func (r *PostgresRepository) FindByBookID(ctx context.Context, bookID uuid.UUID) ([]*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_by_book")
	defer span.End()

	return r.selectMany(ctx, goqu.C("book_id").Eq(bookID.String()))
}

func (r *PostgresRepository) FindAll(ctx context.Context) ([]*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "loans.find_all")
	defer span.End()

	return r.selectMany(ctx)
}

func (r *PostgresRepository) selectLoans(where ...exp.Expression) *goqu.SelectDataset {
	return database.Dialect.From(loansTable).
		Select(loanColumns...).
		Where(where...).
		Order(goqu.C("loan_date").Asc()).
		Prepared(true)
}

func (r *PostgresRepository) selectMany(ctx context.Context, where ...exp.Expression) ([]*Loan, error) {
	query, args, err := r.selectLoans(where...).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}

	var rows []loanRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	loans := make([]*Loan, 0, len(rows))
	for _, row := range rows {
		loan, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

func (r *PostgresRepository) Save(ctx context.Context, loan *Loan) error {
	ctx, span := r.tracer.Start(ctx, "loans.save",
		trace.WithAttributes(attribute.String("loan.id", loan.ID.String())),
	)
	defer span.End()

	if loan.Version == 0 {
		loan.Version = 1
	}
	record := r.record(loan)
	record["id"] = loan.ID.String()
	record["book_id"] = loan.BookID.String()
	record["user_id"] = loan.UserID.String()
	record["loan_date"] = loan.LoanDate
	record["version"] = loan.Version
	record["created_at"] = r.now().UTC()

	query, args, err := database.Dialect.Insert(loansTable).Rows(record).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return apperr.Conflict("loan %s already exists", loan.ID)
		case database.IsForeignKeyViolation(err):
			return apperr.Validation("loan %s references a missing book or user", loan.ID)
		}
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

// Update writes the loan if its version is unchanged since it was read.
func (r *PostgresRepository) Update(ctx context.Context, loan *Loan) error {
	ctx, span := r.tracer.Start(ctx, "loans.update",
		trace.WithAttributes(
			attribute.String("loan.id", loan.ID.String()),
			attribute.Int("expected.version", loan.Version),
		),
	)
	defer span.End()

	record := r.record(loan)
	record["version"] = loan.Version + 1

	query, args, err := database.Dialect.Update(loansTable).
		Set(record).
		Where(
			goqu.C("id").Eq(loan.ID.String()),
			goqu.C("version").Eq(loan.Version),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return fmt.Errorf("update loan %s: %w", loan.ID, apperr.ErrConcurrencyConflict)
	}
	loan.Version++
	return nil
}

// record holds the columns a loan changes over its life.
func (r *PostgresRepository) record(loan *Loan) goqu.Record {
	var returnDate interface{}
	if rd, ok := loan.ReturnDate(); ok {
		returnDate = rd
	}
	return goqu.Record{
		"expected_return_date": loan.ExpectedReturnDate,
		"return_date":          returnDate,
		"status":               string(loan.StoredStatus()),
		"user_type":            loan.UserType().String(),
		"updated_at":           r.now().UTC(),
	}
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "loans.delete",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.Delete(loansTable).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("loan", id)
	}
	return nil
}
