// Package eventstore is an append-only journal of domain events stored
// in Postgres, one stream per aggregate, with optimistic concurrency on
// the stream version.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendinghub/internal/apperr"
	"lendinghub/internal/platform/database"
)

const eventsTable = "events"

var ErrInvalidVersion = errors.New("invalid version number")

// Event is one entry of an aggregate's stream. Version numbers start
// at 1 and have no gaps.
type Event struct {
	ID            int64             `json:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	EventData     json.RawMessage   `json:"event_data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEvent marshals data as the payload of an event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: payload}, nil
}

// Decode unmarshals the event payload into dst.
func (e Event) Decode(dst any) error {
	if err := json.Unmarshal(e.EventData, dst); err != nil {
		return fmt.Errorf("decode %s v%d: %w", e.EventType, e.Version, err)
	}
	return nil
}

type eventRow struct {
	ID            int64          `db:"id"`
	AggregateID   uuid.UUID      `db:"aggregate_id"`
	AggregateType string         `db:"aggregate_type"`
	EventType     string         `db:"event_type"`
	EventData     []byte         `db:"event_data"`
	Metadata      sql.NullString `db:"metadata"`
	Version       int            `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
}

// EventStore appends and loads events in the events table.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("lendinghub/eventstore"),
		now:    time.Now,
	}
}

// AppendEvents appends events to the aggregate's stream if its current
// version equals expectedVersion. A lost race is reported as
// apperr.ErrConcurrencyConflict.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := es.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentVersion, err := currentVersion(ctx, tx, aggregateID)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return fmt.Errorf("append to %s %s at version %d: %w",
			aggregateType, aggregateID, currentVersion, apperr.ErrConcurrencyConflict)
	}

	now := es.now().UTC()
	rows := make([]interface{}, 0, len(events))
	for i, event := range events {
		var metadata interface{}
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(raw)
		}
		rows = append(rows, goqu.Record{
			"aggregate_id":   aggregateID.String(),
			"aggregate_type": aggregateType,
			"event_type":     event.EventType,
			"event_data":     string(event.EventData),
			"metadata":       metadata,
			"version":        expectedVersion + i + 1,
			"created_at":     now,
		})
	}

	query, args, err := database.Dialect.Insert(eventsTable).Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return fmt.Errorf("append to %s %s: %w", aggregateType, aggregateID, apperr.ErrConcurrencyConflict)
		}
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for i, event := range events {
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", expectedVersion+i+1),
			attribute.String("event.type", event.EventType),
		))
	}
	return nil
}

// LoadEvents returns the aggregate's stream in version order. An
// unknown aggregate has an empty stream.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	query, args, err := database.Dialect.From(eventsTable).
		Select("id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at").
		Where(goqu.C("aggregate_id").Eq(aggregateID.String())).
		Order(goqu.C("version").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []eventRow
	if err := es.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			EventType:     row.EventType,
			EventData:     json.RawMessage(row.EventData),
			Version:       row.Version,
			CreatedAt:     row.CreatedAt,
		}
		if row.Metadata.Valid && row.Metadata.String != "" {
			if err := json.Unmarshal([]byte(row.Metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", row.ID, err)
			}
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of an aggregate, 0 if it has
// no events.
func (es *EventStore) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.current_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	version, err := currentVersion(ctx, es.db, aggregateID)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

func currentVersion(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) (int, error) {
	query, args, err := database.Dialect.From(eventsTable).
		Select(goqu.COALESCE(goqu.MAX("version"), goqu.L("0"))).
		Where(goqu.C("aggregate_id").Eq(aggregateID.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}

	var version int
	if err := sqlx.GetContext(ctx, q, &version, query, args...); err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}
