// Package memory keeps books, users, loans and loan events in process
// memory. It enforces the same keys, foreign keys and version checks as
// the Postgres schema, and is used by tests and the memory storage
// driver.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
	"lendinghub/internal/eventstore"
	"lendinghub/internal/membership"
)

// Store holds all tables behind one lock so cross-table checks, like
// refusing to delete a book with loans, see a consistent state.
type Store struct {
	mu          sync.RWMutex
	books       map[uuid.UUID]*catalog.Book
	users       map[uuid.UUID]*membership.User
	loans       map[uuid.UUID]*circulation.Loan
	events      map[uuid.UUID][]eventstore.Event
	nextEventID int64
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		books:  make(map[uuid.UUID]*catalog.Book),
		users:  make(map[uuid.UUID]*membership.User),
		loans:  make(map[uuid.UUID]*circulation.Loan),
		events: make(map[uuid.UUID][]eventstore.Event),
		now:    time.Now,
	}
}

func (s *Store) Books() *BookRepository { return &BookRepository{s: s} }
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }
func (s *Store) Loans() *LoanRepository { return &LoanRepository{s: s} }
func (s *Store) Journal() *Journal      { return &Journal{s: s} }

func (s *Store) hasLoans(match func(*circulation.Loan) bool) bool {
	for _, loan := range s.loans {
		if match(loan) {
			return true
		}
	}
	return false
}

func sortedLoans(loans []*circulation.Loan) []*circulation.Loan {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].LoanDate.Equal(loans[j].LoanDate) {
			return loans[i].ID.String() < loans[j].ID.String()
		}
		return loans[i].LoanDate.Before(loans[j].LoanDate)
	})
	return loans
}
