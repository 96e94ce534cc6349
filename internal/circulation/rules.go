package circulation

import (
	"math"
	"time"

	"lendinghub/internal/catalog"
	"lendinghub/internal/membership"
)

const (
	ReasonBookNotAvailable = "Book not available"
	ReasonOverdueLoans     = "User has overdue loans"
	ReasonBorrowLimit      = "User has reached borrowing limit"
	ReasonAlreadyReturned  = "Loan already returned"
)

type BorrowDecision struct {
	CanBorrow bool
	Reason    string
}

type ReturnDecision struct {
	CanReturn bool
	Reason    string
}

// Rules evaluates lending rules against a policy. It has no state
// beyond the policy and performs no I/O.
type Rules struct {
	policy Policy
}

func NewRules(policy Policy) Rules {
	return Rules{policy: policy}
}

func (r Rules) Policy() Policy {
	return r.policy
}

// CanUserBorrowBook checks availability, then overdue loans, then the
// borrow limit. The first failing check gives the reason.
func (r Rules) CanUserBorrowBook(user *membership.User, book *catalog.Book, activeLoans, overdueLoans []*Loan) BorrowDecision {
	switch {
	case !book.HasAvailableCopies():
		return BorrowDecision{Reason: ReasonBookNotAvailable}
	case len(overdueLoans) > 0:
		return BorrowDecision{Reason: ReasonOverdueLoans}
	case len(activeLoans) >= r.policy.BorrowLimit(user.Type):
		return BorrowDecision{Reason: ReasonBorrowLimit}
	}
	return BorrowDecision{CanBorrow: true}
}

func (r Rules) ValidateReturnBook(loan *Loan) ReturnDecision {
	if loan.IsReturned() {
		return ReturnDecision{Reason: ReasonAlreadyReturned}
	}
	return ReturnDecision{CanReturn: true}
}

// CalculateFine charges FinePerDay for each whole day between the due
// date and the return date. Unreturned loans have no fine yet.
func (r Rules) CalculateFine(loan *Loan) float64 {
	returned, ok := loan.ReturnDate()
	if !ok {
		return 0
	}
	return r.fine(loan.ExpectedReturnDate, returned)
}

// OutstandingFine is the fine the loan would incur if returned at now.
func (r Rules) OutstandingFine(loan *Loan, now time.Time) float64 {
	if returned, ok := loan.ReturnDate(); ok {
		return r.fine(loan.ExpectedReturnDate, returned)
	}
	return r.fine(loan.ExpectedReturnDate, now)
}

func (r Rules) fine(due, returned time.Time) float64 {
	late := returned.Sub(due)
	if late <= 0 {
		return 0
	}
	days := math.Floor(float64(late) / float64(day))
	return days * r.policy.FinePerDay
}
