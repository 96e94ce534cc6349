package circulation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/membership"
)

// LoanStatus is the lifecycle state of a loan. Only ACTIVE and RETURNED
// are stored; OVERDUE is derived from the clock when a loan is read.
type LoanStatus string

const (
	StatusActive   LoanStatus = "ACTIVE"
	StatusReturned LoanStatus = "RETURNED"
	StatusOverdue  LoanStatus = "OVERDUE"
)

// ParseStoredStatus accepts the persisted statuses only.
func ParseStoredStatus(raw string) (LoanStatus, error) {
	switch s := LoanStatus(raw); s {
	case StatusActive, StatusReturned:
		return s, nil
	default:
		return "", apperr.Validation("unknown stored loan status %q", raw)
	}
}

// Loan records one copy of a book lent to one user.
type Loan struct {
	ID                 uuid.UUID
	BookID             uuid.UUID
	UserID             uuid.UUID
	LoanDate           time.Time
	ExpectedReturnDate time.Time
	Version            int

	returnDate *time.Time
	status     LoanStatus
	userType   membership.UserType
}

// NewLoan opens an ACTIVE loan due after the user type's loan period.
func NewLoan(id, bookID, userID uuid.UUID, userType membership.UserType, loanDate time.Time, policy Policy) *Loan {
	return &Loan{
		ID:                 id,
		BookID:             bookID,
		UserID:             userID,
		LoanDate:           loanDate,
		ExpectedReturnDate: loanDate.Add(policy.LoanPeriod(userType)),
		Version:            1,
		status:             StatusActive,
		userType:           userType,
	}
}

// LoanState is the stored form of a loan.
type LoanState struct {
	ID                 uuid.UUID
	BookID             uuid.UUID
	UserID             uuid.UUID
	LoanDate           time.Time
	ExpectedReturnDate time.Time
	ReturnDate         *time.Time
	Status             LoanStatus
	UserType           membership.UserType
	Version            int
}

// RestoreLoan rebuilds a loan from storage. A RETURNED loan must carry
// its return date and an ACTIVE one must not.
func RestoreLoan(s LoanState) (*Loan, error) {
	if _, err := ParseStoredStatus(string(s.Status)); err != nil {
		return nil, err
	}
	if (s.Status == StatusReturned) != (s.ReturnDate != nil) {
		return nil, apperr.Validation("loan %s: status %s inconsistent with return date", s.ID, s.Status)
	}
	if s.ExpectedReturnDate.Before(s.LoanDate) {
		return nil, apperr.Validation("loan %s: due before it was lent", s.ID)
	}
	loan := &Loan{
		ID:                 s.ID,
		BookID:             s.BookID,
		UserID:             s.UserID,
		LoanDate:           s.LoanDate,
		ExpectedReturnDate: s.ExpectedReturnDate,
		Version:            s.Version,
		status:             s.Status,
		userType:           s.UserType,
	}
	if s.ReturnDate != nil {
		rd := *s.ReturnDate
		loan.returnDate = &rd
	}
	return loan, nil
}

// State returns the stored form of the loan.
func (l *Loan) State() LoanState {
	s := LoanState{
		ID:                 l.ID,
		BookID:             l.BookID,
		UserID:             l.UserID,
		LoanDate:           l.LoanDate,
		ExpectedReturnDate: l.ExpectedReturnDate,
		Status:             l.status,
		UserType:           l.userType,
		Version:            l.Version,
	}
	if l.returnDate != nil {
		rd := *l.returnDate
		s.ReturnDate = &rd
	}
	return s
}

// ReturnBook closes the loan on date.
func (l *Loan) ReturnBook(date time.Time) error {
	if l.status == StatusReturned {
		return apperr.InvalidState("Loan already returned")
	}
	l.returnDate = &date
	l.status = StatusReturned
	return nil
}

// Status derives the loan status at now.
func (l *Loan) Status(now time.Time) LoanStatus {
	if l.status == StatusReturned {
		return StatusReturned
	}
	if now.After(l.ExpectedReturnDate) {
		return StatusOverdue
	}
	return StatusActive
}

func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status(now) == StatusOverdue
}

func (l *Loan) IsReturned() bool {
	return l.status == StatusReturned
}

func (l *Loan) StoredStatus() LoanStatus {
	return l.status
}

func (l *Loan) ReturnDate() (time.Time, bool) {
	if l.returnDate == nil {
		return time.Time{}, false
	}
	return *l.returnDate, true
}

// UserType is the user's type when the loan was opened.
func (l *Loan) UserType() membership.UserType {
	return l.userType
}

func (l *Loan) Clone() *Loan {
	c := *l
	if l.returnDate != nil {
		rd := *l.returnDate
		c.returnDate = &rd
	}
	return &c
}

type loanJSON struct {
	ID                 uuid.UUID           `json:"id"`
	BookID             uuid.UUID           `json:"book_id"`
	UserID             uuid.UUID           `json:"user_id"`
	LoanDate           time.Time           `json:"loan_date"`
	ExpectedReturnDate time.Time           `json:"expected_return_date"`
	ReturnDate         *time.Time          `json:"return_date,omitempty"`
	Status             LoanStatus          `json:"status"`
	UserType           membership.UserType `json:"user_type"`
	Version            int                 `json:"version"`
}

func (l *Loan) view(now time.Time) loanJSON {
	return loanJSON{
		ID:                 l.ID,
		BookID:             l.BookID,
		UserID:             l.UserID,
		LoanDate:           l.LoanDate,
		ExpectedReturnDate: l.ExpectedReturnDate,
		ReturnDate:         l.returnDate,
		Status:             l.Status(now),
		UserType:           l.userType,
		Version:            l.Version,
	}
}

// MarshalJSON encodes the loan with its status derived at encode time.
func (l *Loan) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.view(time.Now()))
}

// LoanView is a loan as listed to its user: the status and any fine
// accrued so far are evaluated at the time of the listing.
type LoanView struct {
	Loan            *Loan
	Status          LoanStatus
	OutstandingFine float64
	AsOf            time.Time
}

func (v LoanView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		loanJSON
		OutstandingFine float64 `json:"outstanding_fine"`
	}{
		loanJSON:        v.Loan.view(v.AsOf),
		OutstandingFine: v.OutstandingFine,
	})
}
