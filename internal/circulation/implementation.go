package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/catalog"
	"lendinghub/internal/eventstore"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/lock"
	"lendinghub/internal/platform/retry"
)

// service implements the Service interface.
type service struct {
	books   catalog.Repository
	users   membership.Repository
	loans   Repository
	journal Journal
	rules   Rules
	locker  Locker
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time
	retry   []retry.Option
}

// Option configures the circulation service.
type Option func(*service)

// WithLocker serializes borrows and returns per book (and borrows per
// user) through l. Without it only optimistic concurrency applies.
func WithLocker(l Locker) Option {
	return func(s *service) { s.locker = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *service) { s.retry = append(s.retry, opts...) }
}

// NewService creates a new circulation service instance.
func NewService(
	books catalog.Repository,
	users membership.Repository,
	loans Repository,
	journal Journal,
	rules Rules,
	logger *slog.Logger,
	opts ...Option,
) Service {
	s := &service{
		books:   books,
		users:   users,
		loans:   loans,
		journal: journal,
		rules:   rules,
		locker:  lock.Noop{},
		logger:  logger.With("component", "circulation"),
		tracer:  otel.Tracer("lendinghub/circulation"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(otel.Meter("lendinghub/circulation"), s.logger)
	s.retry = append(s.retry, retry.WithOnRetry(func(attempt int, err error) {
		s.logger.Debug("retrying after concurrency conflict", "attempt", attempt, "error", err)
	}))
	return s
}

// CreateLoan lends one copy of a book to a user. The rule checks and
// the copy decrement are retried together when another writer changes
// the book in between. If the loan cannot be journaled the loan and the
// copy decrement are undone.
func (s *service) CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_loan",
		trace.WithAttributes(
			attribute.String("book.id", req.BookID.String()),
			attribute.String("user.id", req.UserID.String()),
		),
	)
	defer span.End()

	release, err := s.lockAll(ctx, bookLockKey(req.BookID), userLockKey(req.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan resources: %w", err)
	}
	defer release()

	var loan *Loan
	err = retry.OnConflict(ctx, func(ctx context.Context) error {
		var err error
		loan, err = s.tryCreateLoan(ctx, req)
		return err
	}, s.retry...)
	if err != nil {
		if errors.Is(err, apperr.ErrBusinessRule) {
			reason := apperr.Message(err)
			s.metrics.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
			s.logger.InfoContext(ctx, "loan rejected",
				"book_id", req.BookID,
				"user_id", req.UserID,
				"reason", reason,
			)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	event, err := loanCreatedEvent(loan)
	if err == nil {
		err = s.journal.AppendEvents(ctx, loan.ID, aggregateType, 0, []eventstore.Event{event})
	}
	if err != nil {
		s.compensateLoan(ctx, loan, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to record loan: %w", err)
	}

	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))
	s.metrics.created.Add(ctx, 1, metric.WithAttributes(attribute.String("user.type", loan.UserType().String())))
	s.logger.InfoContext(ctx, "loan created",
		"loan_id", loan.ID,
		"book_id", loan.BookID,
		"user_id", loan.UserID,
		"due", loan.ExpectedReturnDate,
	)
	return loan, nil
}

func (s *service) tryCreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	book, err := s.books.FindByID(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	active, err := s.loans.FindActiveByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active loans: %w", err)
	}
	overdue, err := s.loans.FindOverdueByUserID(ctx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load overdue loans: %w", err)
	}

	decision := s.rules.CanUserBorrowBook(user, book, active, overdue)
	if !decision.CanBorrow {
		return nil, apperr.BusinessRule(decision.Reason)
	}

	if err := book.DecreaseAvailableCopies(); err != nil {
		return nil, err
	}
	if err := s.books.Update(ctx, book); err != nil {
		return nil, err
	}

	loan := NewLoan(uuid.New(), book.ID, user.ID, user.Type, now, s.rules.Policy())
	if err := s.loans.Save(ctx, loan); err != nil {
		s.restoreCopy(ctx, book.ID)
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}
	return loan, nil
}

// compensateLoan undoes a loan whose creation could not be journaled.
func (s *service) compensateLoan(ctx context.Context, loan *Loan, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.logger.WarnContext(ctx, "compensating loan creation",
		"loan_id", loan.ID,
		"book_id", loan.BookID,
		"error", cause,
	)
	if err := s.loans.Delete(ctx, loan.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete uncommitted loan", "loan_id", loan.ID, "error", err)
	}
	s.restoreCopy(ctx, loan.BookID)
}

// restoreCopy puts one copy back on the shelf, logging on failure.
func (s *service) restoreCopy(ctx context.Context, bookID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	if err := s.incrementCopies(ctx, bookID); err != nil {
		s.logger.ErrorContext(ctx, "failed to restore book copy", "book_id", bookID, "error", err)
	}
}

func (s *service) incrementCopies(ctx context.Context, bookID uuid.UUID) error {
	return retry.OnConflict(ctx, func(ctx context.Context) error {
		book, err := s.books.FindByID(ctx, bookID)
		if err != nil {
			return err
		}
		if err := book.IncreaseAvailableCopies(); err != nil {
			return err
		}
		return s.books.Update(ctx, book)
	}, s.retry...)
}

// ReturnBook closes a loan, puts the copy back and reports the fine.
func (s *service) ReturnBook(ctx context.Context, req ReturnBookRequest) (*ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_book",
		trace.WithAttributes(attribute.String("loan.id", req.LoanID.String())),
	)
	defer span.End()

	existing, err := s.loans.FindByID(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	release, err := s.lockAll(ctx, bookLockKey(existing.BookID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan resources: %w", err)
	}
	defer release()

	var result *ReturnResult
	err = retry.OnConflict(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.tryReturnBook(ctx, req)
		return err
	}, s.retry...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	loan := result.Loan
	event, err := loanReturnedEvent(loan, result.Fine)
	if err == nil {
		err = s.journal.AppendEvents(ctx, loan.ID, aggregateType, 1, []eventstore.Event{event})
	}
	if err != nil {
		s.logger.WarnContext(ctx, "loan returned but not journaled", "loan_id", loan.ID, "error", err)
	}

	span.SetAttributes(attribute.Float64("loan.fine", result.Fine))
	s.metrics.returned.Add(ctx, 1)
	if result.Fine > 0 {
		s.metrics.fines.Add(ctx, result.Fine)
	}
	s.logger.InfoContext(ctx, "book returned",
		"loan_id", loan.ID,
		"book_id", loan.BookID,
		"fine", result.Fine,
	)
	return result, nil
}

// tryReturnBook checks the loan before the date, so a closed loan is
// reported as already returned whatever date comes with it.
func (s *service) tryReturnBook(ctx context.Context, req ReturnBookRequest) (*ReturnResult, error) {
	loan, err := s.loans.FindByID(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if decision := s.rules.ValidateReturnBook(loan); !decision.CanReturn {
		return nil, apperr.InvalidState(decision.Reason)
	}
	book, err := s.books.FindByID(ctx, loan.BookID)
	if err != nil {
		return nil, err
	}
	returnDate, err := parseReturnDate(req.ReturnDate, s.now)
	if err != nil {
		return nil, err
	}

	before := loan.Clone()
	if err := loan.ReturnBook(returnDate); err != nil {
		return nil, err
	}
	if err := book.IncreaseAvailableCopies(); err != nil {
		return nil, err
	}
	fine := s.rules.CalculateFine(loan)

	if err := s.loans.Update(ctx, loan); err != nil {
		return nil, err
	}
	if err := s.books.Update(ctx, book); err != nil {
		if !errors.Is(err, apperr.ErrConcurrencyConflict) {
			s.reopenLoan(ctx, before, loan.Version)
			return nil, fmt.Errorf("failed to update book: %w", err)
		}
		// The book moved on since it was read; the loan is already closed,
		// so only the copy increment is retried.
		if err := s.incrementCopies(ctx, book.ID); err != nil {
			s.reopenLoan(ctx, before, loan.Version)
			return nil, fmt.Errorf("failed to update book: %w", err)
		}
	}
	return &ReturnResult{Loan: loan, Fine: fine}, nil
}

// reopenLoan writes back the pre-return state of a loan whose copy could
// not be put back.
func (s *service) reopenLoan(ctx context.Context, before *Loan, version int) {
	ctx = context.WithoutCancel(ctx)
	before.Version = version
	s.logger.WarnContext(ctx, "reopening loan after failed return", "loan_id", before.ID)
	if err := s.loans.Update(ctx, before); err != nil {
		s.logger.ErrorContext(ctx, "failed to reopen loan", "loan_id", before.ID, "error", err)
	}
}

// GetUserLoans lists every loan of a user with status and fine as of now.
// An unknown user simply has no loans.
func (s *service) GetUserLoans(ctx context.Context, userID uuid.UUID) ([]LoanView, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.get_user_loans",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	loans, err := s.loans.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}

	now := s.now().UTC()
	views := make([]LoanView, 0, len(loans))
	for _, loan := range loans {
		views = append(views, LoanView{
			Loan:            loan,
			Status:          loan.Status(now),
			OutstandingFine: s.rules.OutstandingFine(loan, now),
			AsOf:            now,
		})
	}
	return views, nil
}

func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return s.loans.FindByID(ctx, id)
}

// GetBookLoans lists the loan history of a book.
func (s *service) GetBookLoans(ctx context.Context, bookID uuid.UUID) ([]*Loan, error) {
	if _, err := s.books.FindByID(ctx, bookID); err != nil {
		return nil, err
	}
	return s.loans.FindByBookID(ctx, bookID)
}

// History returns the journaled events of a loan.
func (s *service) History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.loans.FindByID(ctx, loanID); err != nil {
		return nil, err
	}
	return s.journal.LoadEvents(ctx, loanID)
}

// lockAll takes the keys in order and returns a func releasing them all.
func (s *service) lockAll(ctx context.Context, keys ...string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := s.locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func bookLockKey(id uuid.UUID) string { return "book:" + id.String() }
func userLockKey(id uuid.UUID) string { return "user:" + id.String() }

// parseReturnDate accepts RFC 3339 timestamps and plain dates. An empty
// string is the current time.
func parseReturnDate(raw string, now func() time.Time) (time.Time, error) {
	if raw == "" {
		return now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("invalid return date %q", raw)
}
