package catalog

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendinghub/internal/apperr"
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewPostgresRepository(sqlx.NewDb(raw, "postgres")), mock
}

func bookRows(id uuid.UUID, total, available, version int) *sqlmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "isbn", "title", "author", "publication_year", "category",
		"total_copies", "available_copies", "version", "created_at", "updated_at",
	}).AddRow(id.String(), "9780141439518", "Pride and Prejudice", "Jane Austen", 1813, "fiction",
		total, available, version, now, now)
}

func TestPostgresFindByID(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "books" WHERE ("id" = $1)`)).
		WithArgs(id.String()).
		WillReturnRows(bookRows(id, 3, 2, 7))

	book, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, book.ID)
	assert.Equal(t, "9780141439518", book.ISBN.Value())
	assert.Equal(t, 2, book.AvailableCopies())
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 7, book.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "books"`)).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresFindByIDRejectsCorruptRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "books"`)).
		WithArgs(id.String()).
		WillReturnRows(bookRows(id, 1, 2, 1))

	_, err := repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPostgresFindByISBN(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "books" WHERE ("isbn" = $1)`)).
		WithArgs("9780141439518").
		WillReturnRows(bookRows(id, 1, 1, 1))

	book, err := repo.FindByISBN(context.Background(), MustISBN("978-0-14-143951-8"))
	require.NoError(t, err)
	assert.Equal(t, id, book.ID)
}

func TestPostgresSearch(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`plainto_tsquery('english', $1)`)).
		WithArgs("austen", int64(10)).
		WillReturnRows(bookRows(uuid.New(), 1, 1, 1))

	books, err := repo.Search(context.Background(), "austen", 10)
	require.NoError(t, err)
	assert.Len(t, books, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveDuplicateISBN(t *testing.T) {
	repo, mock := newMockRepository(t)
	book, err := NewBook(uuid.New(), details(), 2)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "books"`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err = repo.Save(context.Background(), book)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgresSave(t *testing.T) {
	repo, mock := newMockRepository(t)
	book, err := NewBook(uuid.New(), details(), 2)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "books"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), book))
	assert.False(t, book.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateBumpsVersion(t *testing.T) {
	repo, mock := newMockRepository(t)
	book, err := RestoreBook(uuid.New(), details(), 2, 2)
	require.NoError(t, err)
	book.Version = 4
	require.NoError(t, book.DecreaseAvailableCopies())

	// Set columns are sorted by name, then the id and version predicates.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "books" SET`)).
		WithArgs(
			"Jane Austen",   // author
			1,               // available_copies
			"fiction",       // category
			"9780141439518", // isbn
			1813,            // publication_year
			"Pride and Prejudice",
			2,                // total_copies
			sqlmock.AnyArg(), // updated_at
			5,                // version
			book.ID.String(), // id predicate
			4,                // expected version
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), book))
	assert.Equal(t, 5, book.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConflict(t *testing.T) {
	repo, mock := newMockRepository(t)
	book, err := NewBook(uuid.New(), details(), 1)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "books"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Update(context.Background(), book)
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	assert.Equal(t, 1, book.Version, "version unchanged after a lost race")
}

func TestPostgresDelete(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books"`)).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), id))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books"`)).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), id), apperr.ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "books"`)).
		WithArgs(id.String()).
		WillReturnError(&pq.Error{Code: "23503"})
	assert.ErrorIs(t, repo.Delete(context.Background(), id), apperr.ErrConflict)
}
