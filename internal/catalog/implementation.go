package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
)

const searchLimit = 25

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, logger *slog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With("component", "catalog"),
		tracer: otel.Tracer("lendinghub/catalog"),
		now:    time.Now,
	}
}

// AddBook validates and registers a new title. ISBNs are unique.
func (s *service) AddBook(ctx context.Context, req AddBookRequest) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book")
	defer span.End()

	isbn, err := NewISBN(req.ISBN)
	if err != nil {
		return nil, err
	}

	book, err := NewBook(uuid.New(), BookDetails{
		ISBN:            isbn,
		Title:           req.Title,
		Author:          req.Author,
		PublicationYear: req.PublicationYear,
		Category:        req.Category,
	}, req.TotalCopies)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByISBN(ctx, isbn); err == nil {
		return nil, apperr.Conflict("book with ISBN %s already exists", isbn)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("failed to check isbn: %w", err)
	}

	now := s.now().UTC()
	book.CreatedAt, book.UpdatedAt = now, now
	if err := s.repo.Save(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to save book: %w", err)
	}

	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	s.logger.InfoContext(ctx, "book added",
		"book_id", book.ID,
		"isbn", book.ISBN.Value(),
		"total_copies", book.TotalCopies,
	)
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.repo.FindAll(ctx)
}

// SearchBooks matches title and author words.
func (s *service) SearchBooks(ctx context.Context, query string) ([]*Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search query must not be empty")
	}
	return s.repo.Search(ctx, query, searchLimit)
}

// RemoveBook deletes a title. Titles with copies out on loan stay.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if book.OnLoan() > 0 {
		return apperr.BusinessRule("Book has copies on loan")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}

	s.logger.InfoContext(ctx, "book removed", "book_id", id)
	return nil
}

// CheckAvailability reports how many copies of a book can be lent now.
func (s *service) CheckAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.check_availability",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Availability{
		BookID:          book.ID,
		Title:           book.Title,
		AvailableCopies: book.AvailableCopies(),
		TotalCopies:     book.TotalCopies,
		IsAvailable:     book.HasAvailableCopies(),
	}, nil
}
