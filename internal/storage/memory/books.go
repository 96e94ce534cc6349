package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
)

// BookRepository implements catalog.Repository.
type BookRepository struct {
	s *Store
}

var _ catalog.Repository = (*BookRepository)(nil)

func (r *BookRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	book, ok := r.s.books[id]
	if !ok {
		return nil, apperr.NotFound("book", id)
	}
	return book.Clone(), nil
}

func (r *BookRepository) FindByISBN(ctx context.Context, isbn catalog.ISBN) (*catalog.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, book := range r.s.books {
		if book.ISBN == isbn {
			return book.Clone(), nil
		}
	}
	return nil, apperr.NotFound("book with ISBN", isbn)
}

func (r *BookRepository) FindAll(ctx context.Context) ([]*catalog.Book, error) {
	return r.filter(func(*catalog.Book) bool { return true }, 0), nil
}

// Search matches books whose title or author contain every word of
// the query, ignoring case.
func (r *BookRepository) Search(ctx context.Context, query string, limit int) ([]*catalog.Book, error) {
	words := strings.Fields(strings.ToLower(query))
	return r.filter(func(b *catalog.Book) bool {
		text := strings.ToLower(b.Title + " " + b.Author)
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return true
	}, limit), nil
}

func (r *BookRepository) filter(match func(*catalog.Book) bool, limit int) []*catalog.Book {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	books := make([]*catalog.Book, 0, len(r.s.books))
	for _, book := range r.s.books {
		if match(book) {
			books = append(books, book.Clone())
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title == books[j].Title {
			return books[i].ID.String() < books[j].ID.String()
		}
		return books[i].Title < books[j].Title
	})
	if limit > 0 && len(books) > limit {
		books = books[:limit]
	}
	return books
}

func (r *BookRepository) Save(ctx context.Context, book *catalog.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.books[book.ID]; ok {
		return apperr.Conflict("book %s already exists", book.ID)
	}
	for _, other := range r.s.books {
		if other.ISBN == book.ISBN {
			return apperr.Conflict("book with ISBN %s already exists", book.ISBN)
		}
	}

	now := r.s.now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now
	if book.Version == 0 {
		book.Version = 1
	}
	r.s.books[book.ID] = book.Clone()
	return nil
}

// Update stores book if the stored version still equals book.Version.
func (r *BookRepository) Update(ctx context.Context, book *catalog.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.books[book.ID]
	if !ok {
		return apperr.NotFound("book", book.ID)
	}
	if stored.Version != book.Version {
		return fmt.Errorf("update book %s: %w", book.ID, apperr.ErrConcurrencyConflict)
	}

	book.Version++
	book.UpdatedAt = r.s.now().UTC()
	r.s.books[book.ID] = book.Clone()
	return nil
}

func (r *BookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.books[id]; !ok {
		return apperr.NotFound("book", id)
	}
	if r.s.hasLoans(func(l *circulation.Loan) bool { return l.BookID == id }) {
		return apperr.Conflict("book %s has loan history", id)
	}
	delete(r.s.books, id)
	return nil
}
