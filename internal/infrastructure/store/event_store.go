package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// EventStore keeps events in memory and hands them to an optional publisher.
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	snapshots map[string]Snapshot
	publisher Publisher
	log       zerolog.Logger
}

func NewEventStore(publisher Publisher) *EventStore {
	return &EventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
		publisher: publisher,
		log:       logging.Component("event-store"),
	}
}

// Append stores an event and publishes it
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}

	es.mu.Lock()
	current := len(es.events[aggregateID])
	if expectedVersion != AnyVersion && expectedVersion != current {
		es.mu.Unlock()
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, aggregateID, current, expectedVersion)
	}
	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now().UTC(),
		Version:       current + 1,
	}
	es.events[aggregateID] = append(es.events[aggregateID], event)
	es.mu.Unlock()

	publish(ctx, es.publisher, es.log, event)
	return &event, nil
}

// publish forwards a persisted event. The event is already durable, so a
// failed publish is logged and left to replay.
func publish(ctx context.Context, p Publisher, log zerolog.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event.AggregateID, event); err != nil {
		log.Error().Err(err).
			Str("aggregate_id", event.AggregateID).
			Str("event_type", event.EventType).
			Int("version", event.Version).
			Msg("publish event failed")
	}
}

// GetEvents returns all events for an aggregate
func (es *EventStore) GetEvents(_ context.Context, aggregateID string) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return append([]Event(nil), es.events[aggregateID]...), nil
}

func (es *EventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var out []Event
	for _, e := range es.events[aggregateID] {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (es *EventStore) GetEventsByType(_ context.Context, aggregateType string) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var out []Event
	for _, events := range es.events {
		for _, e := range events {
			if e.AggregateType == aggregateType {
				out = append(out, e)
			}
		}
	}
	sortByTime(out)
	return out, nil
}

// GetAllEvents returns all events ordered by timestamp
func (es *EventStore) GetAllEvents(_ context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var all []Event
	for _, events := range es.events {
		all = append(all, events...)
	}
	sortByTime(all)
	return all, nil
}

func (es *EventStore) ListEvents(_ context.Context, aggregateID string, filter EventFilter) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return ApplyFilter(es.events[aggregateID], filter), nil
}

func (es *EventStore) GetSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	s, ok := es.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (es *EventStore) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if existing, ok := es.snapshots[snapshot.AggregateID]; ok && existing.Version > snapshot.Version {
		return nil
	}
	es.snapshots[snapshot.AggregateID] = *snapshot
	return nil
}

func sortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
