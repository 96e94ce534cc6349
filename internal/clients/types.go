package clients

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Book struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	PublicationYear int       `json:"publication_year,omitempty"`
	Category        string    `json:"category,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Version         int       `json:"version"`
}

type Availability struct {
	BookID          uuid.UUID `json:"book_id"`
	Title           string    `json:"title"`
	AvailableCopies int       `json:"available_copies"`
	TotalCopies     int       `json:"total_copies"`
	IsAvailable     bool      `json:"is_available"`
}

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type Loan struct {
	ID                 uuid.UUID  `json:"id"`
	BookID             uuid.UUID  `json:"book_id"`
	UserID             uuid.UUID  `json:"user_id"`
	LoanDate           time.Time  `json:"loan_date"`
	ExpectedReturnDate time.Time  `json:"expected_return_date"`
	ReturnDate         *time.Time `json:"return_date,omitempty"`
	Status             string     `json:"status"`
	UserType           string     `json:"user_type"`
	Version            int        `json:"version"`
	OutstandingFine    float64    `json:"outstanding_fine,omitempty"`
}

type ReturnResult struct {
	Loan Loan    `json:"loan"`
	Fine float64 `json:"fine"`
}

type LoanEvent struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}
