package circulation

import (
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/eventstore"
)

const (
	aggregateType = "loan"

	EventLoanCreated  = "LoanCreated"
	EventLoanReturned = "LoanReturned"
)

// LoanCreatedEvent is the first event of every loan stream.
type LoanCreatedEvent struct {
	LoanID             uuid.UUID `json:"loan_id"`
	BookID             uuid.UUID `json:"book_id"`
	UserID             uuid.UUID `json:"user_id"`
	UserType           string    `json:"user_type"`
	LoanDate           time.Time `json:"loan_date"`
	ExpectedReturnDate time.Time `json:"expected_return_date"`
}

// LoanReturnedEvent closes a loan stream.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	UserID     uuid.UUID `json:"user_id"`
	ReturnDate time.Time `json:"return_date"`
	Fine       float64   `json:"fine"`
}

func loanCreatedEvent(loan *Loan) (eventstore.Event, error) {
	return eventstore.NewEvent(EventLoanCreated, LoanCreatedEvent{
		LoanID:             loan.ID,
		BookID:             loan.BookID,
		UserID:             loan.UserID,
		UserType:           loan.UserType().String(),
		LoanDate:           loan.LoanDate,
		ExpectedReturnDate: loan.ExpectedReturnDate,
	})
}

func loanReturnedEvent(loan *Loan, fine float64) (eventstore.Event, error) {
	returned, _ := loan.ReturnDate()
	return eventstore.NewEvent(EventLoanReturned, LoanReturnedEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		UserID:     loan.UserID,
		ReturnDate: returned,
		Fine:       fine,
	})
}
