package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/eventstore"
)

// Repository is the loan store. Lookups of missing loans return an
// error matching apperr.ErrNotFound. Update is conditional on
// loan.Version and fails with apperr.ErrConcurrencyConflict when the
// stored loan changed since it was read.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	// FindActiveByUserID returns every unreturned loan of the user,
	// overdue or not.
	FindActiveByUserID(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	// FindOverdueByUserID returns unreturned loans due before now.
	FindOverdueByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Loan, error)
	FindByBookID(ctx context.Context, bookID uuid.UUID) ([]*Loan, error)
	FindAll(ctx context.Context) ([]*Loan, error)
	Save(ctx context.Context, loan *Loan) error
	Update(ctx context.Context, loan *Loan) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Journal records the event history of each loan.
type Journal interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
}

// Locker serializes work on a key across instances. The returned func
// releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type CreateLoanRequest struct {
	BookID uuid.UUID `json:"book_id"`
	UserID uuid.UUID `json:"user_id"`
}

// ReturnBookRequest carries an optional return date, RFC 3339 or
// YYYY-MM-DD. Empty means now.
type ReturnBookRequest struct {
	LoanID     uuid.UUID `json:"-"`
	ReturnDate string    `json:"return_date,omitempty"`
}

type ReturnResult struct {
	Loan *Loan   `json:"loan"`
	Fine float64 `json:"fine"`
}

// Service defines the interface for the circulation service.
type Service interface {
	CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error)
	ReturnBook(ctx context.Context, req ReturnBookRequest) (*ReturnResult, error)
	GetUserLoans(ctx context.Context, userID uuid.UUID) ([]LoanView, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	GetBookLoans(ctx context.Context, bookID uuid.UUID) ([]*Loan, error)
	History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}
