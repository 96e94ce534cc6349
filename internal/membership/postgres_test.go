package membership

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

func TestPostgresFindByEmail(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "users" WHERE ("email" = $1)`)).
		WithArgs("ann@example.com").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "email", "type", "created_at"},
		).AddRow(id.String(), "Ann", "ann@example.com", "privileged", created))

	user, err := repo.FindByEmail(context.Background(), mustEmail(t, "ANN@example.com"))
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, UserTypePrivileged, user.Type)
	assert.Equal(t, created, user.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "users" WHERE ("id" = $1)`)).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresSaveDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepository(t)
	user, err := NewUser(uuid.New(), "Ann", mustEmail(t, "ann@example.com"), UserTypeStandard, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WillReturnError(&pq.Error{Code: "23505"})

	assert.ErrorIs(t, repo.Save(context.Background(), user), apperr.ErrConflict)
}

func TestPostgresDeleteWithLoanHistory(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE ("id" = $1)`)).
		WithArgs(id.String()).
		WillReturnError(&pq.Error{Code: "23503"})

	assert.ErrorIs(t, repo.Delete(context.Background(), id), apperr.ErrConflict)
}

func TestPostgresUpdateMissingUser(t *testing.T) {
	repo, mock := newMockRepository(t)
	user, err := NewUser(uuid.New(), "Ann", mustEmail(t, "ann@example.com"), UserTypeStandard, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "users" SET`)).
		WithArgs("ann@example.com", "Ann", "standard", user.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Update(context.Background(), user), apperr.ErrNotFound)
}
