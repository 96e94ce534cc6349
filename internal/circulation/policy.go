package circulation

import (
	"time"

	"lendinghub/internal/membership"
	"lendinghub/internal/platform/config"
)

// Terms are the lending limits of one user type.
type Terms struct {
	BorrowLimit int
	LoanPeriod  time.Duration
}

// Policy holds the lending terms per user type and the fine charged for
// each whole day a book is returned late.
type Policy struct {
	Terms      map[membership.UserType]Terms
	FinePerDay float64
}

const day = 24 * time.Hour

func DefaultPolicy() Policy {
	return Policy{
		Terms: map[membership.UserType]Terms{
			membership.UserTypeStandard:   {BorrowLimit: 3, LoanPeriod: 14 * day},
			membership.UserTypePrivileged: {BorrowLimit: 10, LoanPeriod: 30 * day},
		},
		FinePerDay: 1.0,
	}
}

// PolicyFromConfig builds a policy from the lending config, starting
// from the defaults for any user type the config leaves out.
func PolicyFromConfig(cfg config.LendingConfig) (Policy, error) {
	p := DefaultPolicy()
	if cfg.FinePerDay != nil {
		p.FinePerDay = *cfg.FinePerDay
	}
	for name, t := range cfg.UserTypes {
		userType, err := membership.ParseUserType(name)
		if err != nil {
			return Policy{}, err
		}
		p.Terms[userType] = Terms{
			BorrowLimit: t.BorrowLimit,
			LoanPeriod:  time.Duration(t.LoanPeriodDays) * day,
		}
	}
	return p, nil
}

// terms falls back to the standard terms for an unconfigured type.
func (p Policy) terms(t membership.UserType) Terms {
	if terms, ok := p.Terms[t]; ok {
		return terms
	}
	return p.Terms[membership.UserTypeStandard]
}

func (p Policy) BorrowLimit(t membership.UserType) int {
	return p.terms(t).BorrowLimit
}

func (p Policy) LoanPeriod(t membership.UserType) time.Duration {
	return p.terms(t).LoanPeriod
}
