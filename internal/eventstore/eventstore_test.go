package eventstore

import (
	"context"
	"errors"
	"os"
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
	"lendinghub/internal/platform/database"
)

var versionQuery = regexp.QuoteMeta(`SELECT COALESCE(MAX("version"), 0) FROM "events" WHERE ("aggregate_id" = $1)`)

type loanNote struct {
	Message string `json:"message"`
}

func newMockStore(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewEventStore(sqlx.NewDb(raw, "postgres")), mock
}

func mustEvent(t *testing.T, eventType string) Event {
	t.Helper()
	event, err := NewEvent(eventType, loanNote{Message: eventType})
	require.NoError(t, err)
	return event
}

func TestAppendEvents(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(versionQuery).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.AppendEvents(context.Background(), id, "loan", 0, []Event{
		mustEvent(t, "LoanCreated"),
		mustEvent(t, "LoanReturned"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventsVersionMismatch(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(versionQuery).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectRollback()

	err := store.AppendEvents(context.Background(), id, "loan", 0, []Event{mustEvent(t, "LoanCreated")})
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventsUniqueViolationIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(versionQuery).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "events"`)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.AppendEvents(context.Background(), id, "loan", 1, []Event{mustEvent(t, "LoanReturned")})
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
}

func TestAppendEventsRejectsNegativeVersion(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.AppendEvents(context.Background(), uuid.New(), "loan", -1, []Event{mustEvent(t, "LoanCreated")})
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestLoadEvents(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "events" WHERE ("aggregate_id" = $1) ORDER BY "version" ASC`)).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at",
		}).
			AddRow(int64(7), id.String(), "loan", "LoanCreated", []byte(`{"message":"LoanCreated"}`), nil, 1, at).
			AddRow(int64(9), id.String(), "loan", "LoanReturned", []byte(`{"message":"LoanReturned"}`), `{"request_id":"abc"}`, 2, at))

	events, err := store.LoadEvents(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, "LoanReturned", events[1].EventType)
	assert.Equal(t, "abc", events[1].Metadata["request_id"])

	var note loanNote
	require.NoError(t, events[1].Decode(&note))
	assert.Equal(t, "LoanReturned", note.Message)
}

// TestAppendEventsPostgres runs against a real database when
// DATABASE_URL is set.
func TestAppendEventsPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, url, database.Options{})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(ctx, db))

	store := NewEventStore(db)
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "loan", 0, []Event{mustEvent(t, "LoanCreated")}))
	err = store.AppendEvents(ctx, id, "loan", 0, []Event{mustEvent(t, "LoanCreated")})
	assert.True(t, errors.Is(err, apperr.ErrConcurrencyConflict))

	version, err := store.CurrentVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
