package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the book store. Lookups of missing books return an error
// matching apperr.ErrNotFound. Update is conditional on book.Version and
// fails with apperr.ErrConcurrencyConflict when another writer got there
// first; on success it advances book.Version.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Book, error)
	FindByISBN(ctx context.Context, isbn ISBN) (*Book, error)
	FindAll(ctx context.Context) ([]*Book, error)
	Search(ctx context.Context, query string, limit int) ([]*Book, error)
	Save(ctx context.Context, book *Book) error
	Update(ctx context.Context, book *Book) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AddBookRequest carries the raw fields of a new catalog entry.
type AddBookRequest struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	Category        string `json:"category"`
	TotalCopies     int    `json:"total_copies"`
}

// Service defines the catalog operations.
type Service interface {
	AddBook(ctx context.Context, req AddBookRequest) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	SearchBooks(ctx context.Context, query string) ([]*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
	CheckAvailability(ctx context.Context, id uuid.UUID) (*Availability, error)
}
