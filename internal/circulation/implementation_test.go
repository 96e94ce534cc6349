package circulation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendinghub/internal/apperr"
	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
	"lendinghub/internal/eventstore"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/retry"
	"lendinghub/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *memory.Store
	clock   *clock
	service circulation.Service
}

func newFixture(t *testing.T, opts ...circulation.Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	return newFixtureWithJournal(t, store, store.Journal(), opts...)
}

func newFixtureWithJournal(t *testing.T, store *memory.Store, journal circulation.Journal, opts ...circulation.Option) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]circulation.Option{
		circulation.WithClock(clk.Now),
		circulation.WithRetryOptions(retry.WithBaseDelay(time.Millisecond), retry.WithMaxAttempts(50)),
	}, opts...)
	svc := circulation.NewService(
		store.Books(), store.Users(), store.Loans(), journal,
		circulation.NewRules(circulation.DefaultPolicy()),
		logger, opts...,
	)
	return &fixture{store: store, clock: clk, service: svc}
}

var isbns = []string{"9780141439518", "9780743273565", "9780262033848", "9780131103627", "9780306406157", "9781234567897"}

func (f *fixture) addBook(t *testing.T, copies int) *catalog.Book {
	t.Helper()
	isbn := isbns[0]
	for _, candidate := range isbns {
		if _, err := f.store.Books().FindByISBN(context.Background(), catalog.MustISBN(candidate)); errors.Is(err, apperr.ErrNotFound) {
			isbn = candidate
			break
		}
	}
	book, err := catalog.NewBook(uuid.New(), catalog.BookDetails{
		ISBN:   catalog.MustISBN(isbn),
		Title:  "Book " + isbn,
		Author: "Author",
	}, copies)
	require.NoError(t, err)
	require.NoError(t, f.store.Books().Save(context.Background(), book))
	return book
}

func (f *fixture) addUser(t *testing.T, userType membership.UserType) *membership.User {
	t.Helper()
	email, err := membership.NewEmail(uuid.NewString()[:8] + "@example.com")
	require.NoError(t, err)
	user, err := membership.NewUser(uuid.New(), "Reader", email, userType, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Save(context.Background(), user))
	return user
}

func (f *fixture) available(t *testing.T, bookID uuid.UUID) int {
	t.Helper()
	book, err := f.store.Books().FindByID(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies()
}

func TestSingleCopyLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)
	alice := f.addUser(t, membership.UserTypeStandard)
	bob := f.addUser(t, membership.UserTypeStandard)

	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, book.ID))
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 14), loan.ExpectedReturnDate)

	_, err = f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: bob.ID})
	require.ErrorIs(t, err, apperr.ErrBusinessRule)
	assert.Equal(t, "Book not available", apperr.Message(err))

	result, err := f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID})
	require.NoError(t, err)
	assert.Zero(t, result.Fine)
	assert.Equal(t, circulation.StatusReturned, result.Loan.StoredStatus())
	assert.Equal(t, 1, f.available(t, book.ID))

	history, err := f.service.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, circulation.EventLoanCreated, history[0].EventType)
	assert.Equal(t, circulation.EventLoanReturned, history[1].EventType)
}

func TestCreateLoanNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)

	_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: uuid.New(), UserID: user.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestBorrowLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, membership.UserTypeStandard)

	for i := 0; i < 3; i++ {
		book := f.addBook(t, 1)
		_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
		require.NoError(t, err, "loan %d of 3", i+1)
	}

	book := f.addBook(t, 1)
	_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.ErrorIs(t, err, apperr.ErrBusinessRule)
	assert.Equal(t, "User has reached borrowing limit", apperr.Message(err))
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestOverdueLoanBlocksBorrowing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, membership.UserTypePrivileged)
	first := f.addBook(t, 1)
	second := f.addBook(t, 1)

	_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: first.ID, UserID: user.ID})
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: second.ID, UserID: user.ID})
	require.ErrorIs(t, err, apperr.ErrBusinessRule)
	assert.Equal(t, "User has overdue loans", apperr.Message(err))

	views, err := f.service.GetUserLoans(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, circulation.StatusOverdue, views[0].Status)
	assert.Equal(t, 1.0, views[0].OutstandingFine)
}

func TestReturnBookWithFine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 2)
	user := f.addUser(t, membership.UserTypeStandard)

	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)

	returned := loan.ExpectedReturnDate.Add(3*24*time.Hour + time.Hour).Format(time.RFC3339)
	result, err := f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID, ReturnDate: returned})
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.Fine)
	assert.Equal(t, 2, f.available(t, book.ID))

	history, err := f.service.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	var event circulation.LoanReturnedEvent
	require.NoError(t, history[1].Decode(&event))
	assert.Equal(t, 3.0, event.Fine)
}

func TestReturnBookTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)

	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)
	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID, ReturnDate: "2026-04-05"})
	require.NoError(t, err)

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID})
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "Loan already returned", apperr.Message(err))
	assert.Equal(t, 1, f.available(t, book.ID))

	stored, err := f.service.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	returnDate, _ := stored.ReturnDate()
	assert.Equal(t, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), returnDate)
}

func TestReturnBookValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: uuid.New(), ReturnDate: "next tuesday"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)
	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID, ReturnDate: "next tuesday"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 0, f.available(t, book.ID))

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID})
	require.NoError(t, err)

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID, ReturnDate: "garbage"})
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "Loan already returned", apperr.Message(err))
}

func TestCreateLoanReportsMissingBookFirst(t *testing.T) {
	f := newFixture(t)

	bookID := uuid.New()
	_, err := f.service.CreateLoan(context.Background(), circulation.CreateLoanRequest{BookID: bookID, UserID: uuid.New()})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, apperr.Message(err), bookID.String())
	assert.Contains(t, apperr.Message(err), "book")
}

func TestConcurrentBorrowersOfLastCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)

	const borrowers = 16
	users := make([]*membership.User, borrowers)
	for i := range users {
		users[i] = f.addUser(t, membership.UserTypeStandard)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		loans    int
		rejected int
		other    []error
	)
	start := make(chan struct{})
	for _, user := range users {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: userID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				loans++
			case errors.Is(err, apperr.ErrBusinessRule):
				rejected++
			default:
				other = append(other, err)
			}
		}(user.ID)
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, loans)
	assert.Equal(t, borrowers-1, rejected)
	assert.Equal(t, 0, f.available(t, book.ID))

	all, err := f.store.Loans().FindByBookID(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

type failingJournal struct {
	circulation.Journal
	failType string
}

func (j failingJournal) AppendEvents(ctx context.Context, id uuid.UUID, aggregateType string, expected int, events []eventstore.Event) error {
	if events[0].EventType == j.failType {
		return errors.New("journal unavailable")
	}
	return j.Journal.AppendEvents(ctx, id, aggregateType, expected, events)
}

func TestCreateLoanCompensatesWhenJournalFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFixtureWithJournal(t, store, failingJournal{Journal: store.Journal(), failType: circulation.EventLoanCreated})
	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)

	_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.Error(t, err)

	assert.Equal(t, 1, f.available(t, book.ID))
	loans, err := store.Loans().FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestReturnSurvivesJournalFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFixtureWithJournal(t, store, failingJournal{Journal: store.Journal(), failType: circulation.EventLoanReturned})
	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)

	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)

	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.available(t, book.ID))
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func() {}, nil
}

func TestLocksBookThenUser(t *testing.T) {
	ctx := context.Background()
	locker := &recordingLocker{}
	f := newFixture(t, circulation.WithLocker(locker))
	book := f.addBook(t, 1)
	user := f.addUser(t, membership.UserTypeStandard)

	loan, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)
	_, err = f.service.ReturnBook(ctx, circulation.ReturnBookRequest{LoanID: loan.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"book:" + book.ID.String(),
		"user:" + user.ID.String(),
		"book:" + book.ID.String(),
	}, locker.keys)
}

func TestGetBookLoans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 2)

	for i := 0; i < 2; i++ {
		user := f.addUser(t, membership.UserTypeStandard)
		_, err := f.service.CreateLoan(ctx, circulation.CreateLoanRequest{BookID: book.ID, UserID: user.ID})
		require.NoError(t, err)
	}

	loans, err := f.service.GetBookLoans(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 2)

	_, err = f.service.GetBookLoans(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	views, err := f.service.GetUserLoans(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, views)
}
