package catalog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
)

// Book is a title held by the library with a number of physical copies.
// The available count is private so that it only moves through
// DecreaseAvailableCopies and IncreaseAvailableCopies, which keep
// 0 <= available <= total.
type Book struct {
	ID              uuid.UUID
	ISBN            ISBN
	Title           string
	Author          string
	PublicationYear int
	Category        string
	TotalCopies     int
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time

	availableCopies int
}

// BookDetails are the descriptive fields of a new book.
type BookDetails struct {
	ISBN            ISBN
	Title           string
	Author          string
	PublicationYear int
	Category        string
}

// NewBook creates a book with every copy on the shelf.
func NewBook(id uuid.UUID, details BookDetails, totalCopies int) (*Book, error) {
	return RestoreBook(id, details, totalCopies, totalCopies)
}

// RestoreBook rebuilds a book from stored state, validating the copy counts.
func RestoreBook(id uuid.UUID, details BookDetails, totalCopies, availableCopies int) (*Book, error) {
	if details.ISBN.IsZero() {
		return nil, apperr.Validation("isbn is required")
	}
	if strings.TrimSpace(details.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if totalCopies < 0 {
		return nil, apperr.Validation("total copies must not be negative, got %d", totalCopies)
	}
	if availableCopies < 0 || availableCopies > totalCopies {
		return nil, apperr.Validation("available copies %d outside [0, %d]", availableCopies, totalCopies)
	}
	return &Book{
		ID:              id,
		ISBN:            details.ISBN,
		Title:           strings.TrimSpace(details.Title),
		Author:          strings.TrimSpace(details.Author),
		PublicationYear: details.PublicationYear,
		Category:        strings.TrimSpace(details.Category),
		TotalCopies:     totalCopies,
		Version:         1,
		availableCopies: availableCopies,
	}, nil
}

func (b *Book) AvailableCopies() int {
	return b.availableCopies
}

func (b *Book) HasAvailableCopies() bool {
	return b.availableCopies > 0
}

// OnLoan is the number of copies currently lent out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.availableCopies
}

// DecreaseAvailableCopies takes one copy off the shelf.
func (b *Book) DecreaseAvailableCopies() error {
	if b.availableCopies == 0 {
		return apperr.Invariant("book %s has no available copies to lend", b.ID)
	}
	b.availableCopies--
	return nil
}

// IncreaseAvailableCopies puts one copy back on the shelf.
func (b *Book) IncreaseAvailableCopies() error {
	if b.availableCopies == b.TotalCopies {
		return apperr.Invariant("book %s already has all %d copies available", b.ID, b.TotalCopies)
	}
	b.availableCopies++
	return nil
}

// Clone returns an independent copy, used by stores that hand out entities.
func (b *Book) Clone() *Book {
	c := *b
	return &c
}

type bookJSON struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	PublicationYear int       `json:"publication_year,omitempty"`
	Category        string    `json:"category,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (b *Book) MarshalJSON() ([]byte, error) {
	return json.Marshal(bookJSON{
		ID:              b.ID,
		ISBN:            b.ISBN.Value(),
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		Category:        b.Category,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.availableCopies,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	})
}

// Availability is the answer to "can this book be borrowed right now".
type Availability struct {
	BookID          uuid.UUID `json:"book_id"`
	Title           string    `json:"title"`
	AvailableCopies int       `json:"available_copies"`
	TotalCopies     int       `json:"total_copies"`
	IsAvailable     bool      `json:"is_available"`
}
