package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/clients"
)

// Target is the lending API an experiment runs against.
type Target struct {
	Catalog     *clients.CatalogClient
	Membership  *clients.MembershipClient
	Circulation *clients.CirculationClient
}

func NewTarget(baseURL string, httpClient *http.Client) Target {
	return Target{
		Catalog:     clients.NewCatalogClient(baseURL, httpClient),
		Membership:  clients.NewMembershipClient(baseURL, httpClient),
		Circulation: clients.NewCirculationClient(baseURL, httpClient),
	}
}

// LendingExperiments returns the standard consistency suite. borrowLimit
// must match the server's limit for standard users.
func LendingExperiments(t Target, concurrency, borrowLimit int) []Experiment {
	return []Experiment{
		ContendedCopyExperiment(t, concurrency),
		BorrowLimitExperiment(t, borrowLimit),
		ReturnStormExperiment(t, concurrency),
	}
}

// ContendedCopyExperiment has many users race for the last copy of a book.
func ContendedCopyExperiment(t Target, concurrency int) Experiment {
	var (
		bookID uuid.UUID
		users  []uuid.UUID
	)

	return Experiment{
		Name:       "contended-single-copy",
		Hypothesis: "Exactly one of many concurrent borrowers gets the only copy and availability never goes negative",
		Setup: func(ctx context.Context) error {
			book, err := addBook(ctx, t, "Contended Copy", 1)
			if err != nil {
				return err
			}
			bookID = book.ID
			users, err = registerUsers(ctx, t, concurrency, "standard")
			return err
		},
		SteadyState: []Metric{
			availableCopies(t, &bookID),
			activeBookLoans(t, &bookID, 1),
		},
		Method: []Action{{
			Name: "concurrent-borrow",
			Execute: func(ctx context.Context) error {
				return parallel(len(users), func(i int) error {
					_, err := t.Circulation.CreateLoan(ctx, bookID, users[i])
					return expectRejection(err, apperr.ErrBusinessRule)
				})
			},
		}},
		Validation: []Assertion{
			{Metric: "active_book_loans", Condition: equals(1), Message: "exactly one loan should be active"},
			{Metric: "available_copies", Condition: equals(0), Message: "the copy should be lent out"},
		},
	}
}

// BorrowLimitExperiment has one user borrow many books at once.
func BorrowLimitExperiment(t Target, borrowLimit int) Experiment {
	var (
		userID uuid.UUID
		books  []uuid.UUID
	)

	return Experiment{
		Name:       "borrow-limit-under-contention",
		Hypothesis: "A user borrowing many books concurrently never exceeds the borrow limit",
		Setup: func(ctx context.Context) error {
			users, err := registerUsers(ctx, t, 1, "standard")
			if err != nil {
				return err
			}
			userID = users[0]
			books = nil
			for i := range borrowLimit * 2 {
				book, err := addBook(ctx, t, fmt.Sprintf("Limit Book %d", i+1), 1)
				if err != nil {
					return err
				}
				books = append(books, book.ID)
			}
			return nil
		},
		SteadyState: []Metric{{
			Name: "user_active_loans",
			Query: func(ctx context.Context) (float64, error) {
				loans, err := t.Circulation.GetUserLoans(ctx, userID)
				if err != nil {
					return 0, err
				}
				return float64(countActive(loans)), nil
			},
			Threshold: Threshold{Operator: "<=", Value: float64(borrowLimit)},
		}},
		Method: []Action{{
			Name: "concurrent-borrow-many",
			Execute: func(ctx context.Context) error {
				return parallel(len(books), func(i int) error {
					_, err := t.Circulation.CreateLoan(ctx, books[i], userID)
					return expectRejection(err, apperr.ErrBusinessRule)
				})
			},
		}},
		Validation: []Assertion{{
			Metric:    "user_active_loans",
			Condition: equals(float64(borrowLimit)),
			Message:   "the user should hold exactly the borrow limit",
		}},
	}
}

// ReturnStormExperiment returns every loan of a book twice, concurrently.
func ReturnStormExperiment(t Target, copies int) Experiment {
	var (
		bookID uuid.UUID
		loans  []uuid.UUID
	)

	return Experiment{
		Name:       "duplicate-return-storm",
		Hypothesis: "Duplicate concurrent returns restore each copy once",
		Setup: func(ctx context.Context) error {
			book, err := addBook(ctx, t, "Return Storm", copies)
			if err != nil {
				return err
			}
			bookID = book.ID
			users, err := registerUsers(ctx, t, copies, "standard")
			if err != nil {
				return err
			}
			loans = nil
			for _, user := range users {
				loan, err := t.Circulation.CreateLoan(ctx, bookID, user)
				if err != nil {
					return err
				}
				loans = append(loans, loan.ID)
			}
			return nil
		},
		SteadyState: []Metric{
			availableCopies(t, &bookID),
			{
				Name: "surplus_copies",
				Query: func(ctx context.Context) (float64, error) {
					book, err := t.Catalog.GetBook(ctx, bookID)
					if err != nil {
						return 0, err
					}
					return float64(book.AvailableCopies - book.TotalCopies), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 0},
			},
		},
		Method: []Action{{
			Name: "concurrent-duplicate-return",
			Execute: func(ctx context.Context) error {
				return parallel(len(loans)*2, func(i int) error {
					_, err := t.Circulation.ReturnBook(ctx, loans[i/2], "")
					return expectRejection(err, apperr.ErrInvalidState)
				})
			},
		}},
		Validation: []Assertion{{
			Metric:    "surplus_copies",
			Condition: equals(0),
			Message:   "every copy should be back exactly once",
		}},
	}
}

func availableCopies(t Target, bookID *uuid.UUID) Metric {
	return Metric{
		Name: "available_copies",
		Query: func(ctx context.Context) (float64, error) {
			book, err := t.Catalog.GetBook(ctx, *bookID)
			if err != nil {
				return 0, err
			}
			return float64(book.AvailableCopies), nil
		},
		Threshold: Threshold{Operator: ">=", Value: 0},
	}
}

func activeBookLoans(t Target, bookID *uuid.UUID, copies int) Metric {
	return Metric{
		Name: "active_book_loans",
		Query: func(ctx context.Context) (float64, error) {
			loans, err := t.Circulation.GetBookLoans(ctx, *bookID)
			if err != nil {
				return 0, err
			}
			return float64(countActive(loans)), nil
		},
		Threshold: Threshold{Operator: "<=", Value: float64(copies)},
	}
}

func countActive(loans []clients.Loan) int {
	n := 0
	for _, l := range loans {
		if l.ReturnDate == nil {
			n++
		}
	}
	return n
}

func equals(want float64) func(float64) bool {
	return func(v float64) bool { return v == want }
}

// expectRejection treats the expected rejection kind as success.
func expectRejection(err, kind error) error {
	if err == nil || errors.Is(err, kind) {
		return nil
	}
	return err
}

// parallel runs fn n times concurrently and joins the errors.
func parallel(n int, fn func(i int) error) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		failed atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				failed.Add(1)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if failed.Load() > 0 {
		return fmt.Errorf("%d of %d requests failed: %w", failed.Load(), n, errors.Join(errs...))
	}
	return nil
}

func addBook(ctx context.Context, t Target, title string, copies int) (*clients.Book, error) {
	return t.Catalog.AddBook(ctx, clients.AddBookRequest{
		ISBN:        randomISBN13(),
		Title:       title,
		Author:      "Chaos Monkey",
		TotalCopies: copies,
	})
}

func registerUsers(ctx context.Context, t Target, n int, userType string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, n)
	for i := range n {
		tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		user, err := t.Membership.RegisterUser(ctx, fmt.Sprintf("Chaos Reader %d", i+1), "chaos-"+tag+"@example.com", userType)
		if err != nil {
			return nil, err
		}
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// randomISBN13 returns a 979-prefixed ISBN-13 with a valid check digit.
func randomISBN13() string {
	digits := []int{9, 7, 9}
	for range 9 {
		digits = append(digits, rand.IntN(10))
	}
	sum := 0
	for i, d := range digits {
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	digits = append(digits, (10-sum%10)%10)

	var b strings.Builder
	for _, d := range digits {
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}
