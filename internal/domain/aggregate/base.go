package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// Load rebuilds an aggregate from its latest snapshot plus later events.
// The boolean reports whether anything was stored under id.
func Load[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	snapshot, err := eventStore.GetSnapshot(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("get snapshot %s: %w", id, err)
	}

	var events []store.Event
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			return zero, false, fmt.Errorf("unmarshal snapshot %s: %w", id, err)
		}
		agg.SetVersion(snapshot.Version)
		events, err = eventStore.GetEventsFromVersion(ctx, id, snapshot.Version)
	} else {
		events, err = eventStore.GetEvents(ctx, id)
	}
	if err != nil {
		return zero, false, fmt.Errorf("load events %s: %w", id, err)
	}

	if err := Replay(agg, events); err != nil {
		return zero, false, err
	}
	return agg, snapshot != nil || len(events) > 0, nil
}

// Replay applies events in order and advances the aggregate version.
func Replay(agg Aggregate, events []store.Event) error {
	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return fmt.Errorf("apply %s v%d: %w", event.EventType, event.Version, err)
		}
		agg.SetVersion(event.Version)
	}
	return nil
}

// MaybeCreateSnapshot saves a snapshot when the version crosses the threshold
func MaybeCreateSnapshot(
	ctx context.Context,
	eventStore store.EventStoreInterface,
	agg Aggregate,
	aggregateType string,
) error {
	if !store.ShouldSnapshot(agg.GetVersion()) {
		return nil
	}
	return SaveSnapshot(ctx, eventStore, agg, aggregateType)
}

// SaveSnapshot unconditionally snapshots the aggregate at its current version.
func SaveSnapshot(ctx context.Context, eventStore store.EventStoreInterface, agg Aggregate, aggregateType string) error {
	snapshot, err := store.NewSnapshot(agg.GetID(), aggregateType, agg.GetVersion(), agg)
	if err != nil {
		return err
	}
	if err := eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("save snapshot %s: %w", agg.GetID(), err)
	}
	return nil
}
