package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/circulation"
)

// LoanRepository implements circulation.Repository.
type LoanRepository struct {
	s *Store
}

var _ circulation.Repository = (*LoanRepository)(nil)

func (r *LoanRepository) FindByID(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	loan, ok := r.s.loans[id]
	if !ok {
		return nil, apperr.NotFound("loan", id)
	}
	return loan.Clone(), nil
}

func (r *LoanRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	return r.filter(func(l *circulation.Loan) bool { return l.UserID == userID }), nil
}

func (r *LoanRepository) FindActiveByUserID(ctx context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	return r.filter(func(l *circulation.Loan) bool {
		return l.UserID == userID && !l.IsReturned()
	}), nil
}

func (r *LoanRepository) FindOverdueByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*circulation.Loan, error) {
	return r.filter(func(l *circulation.Loan) bool {
		return l.UserID == userID && !l.IsReturned() && l.ExpectedReturnDate.Before(now)
	}), nil
}

func (r *LoanRepository) FindByBookID(ctx context.Context, bookID uuid.UUID) ([]*circulation.Loan, error) {
	return r.filter(func(l *circulation.Loan) bool { return l.BookID == bookID }), nil
}

func (r *LoanRepository) FindAll(ctx context.Context) ([]*circulation.Loan, error) {
	return r.filter(func(*circulation.Loan) bool { return true }), nil
}

func (r *LoanRepository) filter(match func(*circulation.Loan) bool) []*circulation.Loan {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	loans := make([]*circulation.Loan, 0)
	for _, loan := range r.s.loans {
		if match(loan) {
			loans = append(loans, loan.Clone())
		}
	}
	return sortedLoans(loans)
}

func (r *LoanRepository) Save(ctx context.Context, loan *circulation.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.loans[loan.ID]; ok {
		return apperr.Conflict("loan %s already exists", loan.ID)
	}
	if _, ok := r.s.books[loan.BookID]; !ok {
		return apperr.Validation("loan %s references a missing book or user", loan.ID)
	}
	if _, ok := r.s.users[loan.UserID]; !ok {
		return apperr.Validation("loan %s references a missing book or user", loan.ID)
	}
	if loan.Version == 0 {
		loan.Version = 1
	}
	r.s.loans[loan.ID] = loan.Clone()
	return nil
}

// Update stores loan if the stored version still equals loan.Version.
func (r *LoanRepository) Update(ctx context.Context, loan *circulation.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.loans[loan.ID]
	if !ok {
		return apperr.NotFound("loan", loan.ID)
	}
	if stored.Version != loan.Version {
		return fmt.Errorf("update loan %s: %w", loan.ID, apperr.ErrConcurrencyConflict)
	}
	loan.Version++
	r.s.loans[loan.ID] = loan.Clone()
	return nil
}

func (r *LoanRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.loans[id]; !ok {
		return apperr.NotFound("loan", id)
	}
	delete(r.s.loans, id)
	return nil
}
