package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lendinghub/internal/apperr"
	"lendinghub/internal/circulation"
	"lendinghub/internal/eventstore"
)

// Journal is an in-memory event stream per aggregate with the same
// expected-version contract as eventstore.EventStore.
type Journal struct {
	s *Store
}

var _ circulation.Journal = (*Journal)(nil)

func (j *Journal) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error {
	if expectedVersion < 0 {
		return eventstore.ErrInvalidVersion
	}

	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	stream := j.s.events[aggregateID]
	if len(stream) != expectedVersion {
		return fmt.Errorf("append to %s %s at version %d: %w",
			aggregateType, aggregateID, len(stream), apperr.ErrConcurrencyConflict)
	}

	now := j.s.now().UTC()
	for i, event := range events {
		j.s.nextEventID++
		event.ID = j.s.nextEventID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = now
		stream = append(stream, event)
	}
	j.s.events[aggregateID] = stream
	return nil
}

func (j *Journal) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()

	stream := j.s.events[aggregateID]
	events := make([]eventstore.Event, len(stream))
	copy(events, stream)
	return events, nil
}
