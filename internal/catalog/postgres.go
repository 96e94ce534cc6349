package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/platform/database"
)

const booksTable = "books"

var bookColumns = []interface{}{
	"id", "isbn", "title", "author", "publication_year", "category",
	"total_copies", "available_copies", "version", "created_at", "updated_at",
}

type bookRow struct {
	ID              uuid.UUID `db:"id"`
	ISBN            string    `db:"isbn"`
	Title           string    `db:"title"`
	Author          string    `db:"author"`
	PublicationYear int       `db:"publication_year"`
	Category        string    `db:"category"`
	TotalCopies     int       `db:"total_copies"`
	AvailableCopies int       `db:"available_copies"`
	Version         int       `db:"version"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r bookRow) toDomain() (*Book, error) {
	isbn, err := NewISBN(r.ISBN)
	if err != nil {
		return nil, fmt.Errorf("stored book %s: %w", r.ID, err)
	}
	book, err := RestoreBook(r.ID, BookDetails{
		ISBN:            isbn,
		Title:           r.Title,
		Author:          r.Author,
		PublicationYear: r.PublicationYear,
		Category:        r.Category,
	}, r.TotalCopies, r.AvailableCopies)
	if err != nil {
		return nil, fmt.Errorf("stored book %s: %w", r.ID, err)
	}
	book.Version = r.Version
	book.CreatedAt = r.CreatedAt
	book.UpdatedAt = r.UpdatedAt
	return book, nil
}

// PostgresRepository stores books in the books table.
type PostgresRepository struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		tracer: otel.Tracer("lendinghub/catalog/postgres"),
		now:    time.Now,
	}
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Book, error) {
	ctx, span := r.tracer.Start(ctx, "books.find_by_id",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	book, err := r.getOne(ctx, goqu.C("id").Eq(id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("book", id)
	}
	return book, err
}

func (r *PostgresRepository) FindByISBN(ctx context.Context, isbn ISBN) (*Book, error) {
	ctx, span := r.tracer.Start(ctx, "books.find_by_isbn")
	defer span.End()

	book, err := r.getOne(ctx, goqu.C("isbn").Eq(isbn.Value()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("book with ISBN", isbn)
	}
	return book, err
}

func (r *PostgresRepository) getOne(ctx context.Context, where goqu.Expression) (*Book, error) {
	query, args, err := database.Dialect.From(booksTable).
		Select(bookColumns...).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	var row bookRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return row.toDomain()
}

func (r *PostgresRepository) FindAll(ctx context.Context) ([]*Book, error) {
	ctx, span := r.tracer.Start(ctx, "books.find_all")
	defer span.End()

	return r.selectMany(ctx, database.Dialect.From(booksTable).
		Select(bookColumns...).
		Order(goqu.C("title").Asc()))
}

// Search uses Postgres full-text matching over title and author.
func (r *PostgresRepository) Search(ctx context.Context, query string, limit int) ([]*Book, error) {
	ctx, span := r.tracer.Start(ctx, "books.search",
		trace.WithAttributes(attribute.Int("search.limit", limit)),
	)
	defer span.End()

	books, err := r.selectMany(ctx, database.Dialect.From(booksTable).
		Select(bookColumns...).
		Where(goqu.L("to_tsvector('english', title || ' ' || author) @@ plainto_tsquery('english', ?)", query)).
		Order(goqu.C("title").Asc()).
		Limit(uint(limit)))
	if err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}
	span.SetAttributes(attribute.Int("search.results", len(books)))
	return books, nil
}

func (r *PostgresRepository) selectMany(ctx context.Context, ds *goqu.SelectDataset) ([]*Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	var rows []bookRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]*Book, 0, len(rows))
	for _, row := range rows {
		book, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

func (r *PostgresRepository) Save(ctx context.Context, book *Book) error {
	ctx, span := r.tracer.Start(ctx, "books.save",
		trace.WithAttributes(attribute.String("book.id", book.ID.String())),
	)
	defer span.End()

	now := r.now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now
	if book.Version == 0 {
		book.Version = 1
	}

	query, args, err := database.Dialect.Insert(booksTable).
		Rows(goqu.Record{
			"id":               book.ID.String(),
			"isbn":             book.ISBN.Value(),
			"title":            book.Title,
			"author":           book.Author,
			"publication_year": book.PublicationYear,
			"category":         book.Category,
			"total_copies":     book.TotalCopies,
			"available_copies": book.AvailableCopies(),
			"version":          book.Version,
			"created_at":       book.CreatedAt,
			"updated_at":       book.UpdatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("book with ISBN %s already exists", book.ISBN)
		}
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// Update writes the book if its version is unchanged since it was read.
func (r *PostgresRepository) Update(ctx context.Context, book *Book) error {
	ctx, span := r.tracer.Start(ctx, "books.update",
		trace.WithAttributes(
			attribute.String("book.id", book.ID.String()),
			attribute.Int("expected.version", book.Version),
		),
	)
	defer span.End()

	now := r.now().UTC()
	query, args, err := database.Dialect.Update(booksTable).
		Set(goqu.Record{
			"isbn":             book.ISBN.Value(),
			"title":            book.Title,
			"author":           book.Author,
			"publication_year": book.PublicationYear,
			"category":         book.Category,
			"total_copies":     book.TotalCopies,
			"available_copies": book.AvailableCopies(),
			"version":          book.Version + 1,
			"updated_at":       now,
		}).
		Where(
			goqu.C("id").Eq(book.ID.String()),
			goqu.C("version").Eq(book.Version),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return fmt.Errorf("update book %s: %w", book.ID, apperr.ErrConcurrencyConflict)
	}

	book.Version++
	book.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "books.delete",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.Delete(booksTable).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.Conflict("book %s has loan history", id)
		}
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("book", id)
	}
	return nil
}
