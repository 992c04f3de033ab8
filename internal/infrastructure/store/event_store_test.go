package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_Append_AssignsVersions(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)

	e1, err := es.Append(ctx, "agg-1", "Inventory", "StockAdjusted", AnyVersion, map[string]int{"delta": 5})
	require.NoError(t, err)
	e2, err := es.Append(ctx, "agg-1", "Inventory", "StockAdjusted", 1, map[string]int{"delta": -2})
	require.NoError(t, err)

	assert.Equal(t, 1, e1.Version)
	assert.Equal(t, 2, e2.Version)

	events, err := es.GetEvents(ctx, "agg-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"delta":-2}`, string(events[1].Data))
}

func TestEventStore_Append_VersionConflict(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)

	_, err := es.Append(ctx, "agg-1", "Order", "OrderPlaced", 0, struct{}{})
	require.NoError(t, err)

	_, err = es.Append(ctx, "agg-1", "Order", "OrderStatusChanged", 0, struct{}{})
	assert.ErrorIs(t, err, ErrVersionConflict)

	events, _ := es.GetEvents(ctx, "agg-1")
	assert.Len(t, events, 1)
}

func TestEventStore_Append_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)
	_, err := es.Append(ctx, "agg-1", "Order", "OrderPlaced", 0, struct{}{})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := es.Append(ctx, "agg-1", "Order", "OrderStatusChanged", 1, struct{}{}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	events, _ := es.GetEvents(ctx, "agg-1")
	assert.Len(t, events, 2)
}

func TestEventStore_PublishFailureKeepsEvent(t *testing.T) {
	ctx := context.Background()
	var published []string
	publisher := PublisherFunc(func(_ context.Context, key string, event any) error {
		published = append(published, key)
		return errors.New("broker down")
	})
	es := NewEventStore(publisher)

	event, err := es.Append(ctx, "agg-1", "Order", "OrderPlaced", AnyVersion, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, []string{"agg-1"}, published)
}

func TestEventStore_PublishesPersistedEvent(t *testing.T) {
	ctx := context.Background()
	var got Event
	es := NewEventStore(PublisherFunc(func(_ context.Context, _ string, event any) error {
		raw, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &got)
	}))

	_, err := es.Append(ctx, "agg-1", "Order", "OrderPlaced", AnyVersion, map[string]string{"id": "agg-1"})
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", got.EventType)
	assert.Equal(t, 1, got.Version)
}

func TestEventStore_GetEventsFromVersion(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)
	for i := 0; i < 5; i++ {
		_, err := es.Append(ctx, "agg-1", "Inventory", "StockAdjusted", AnyVersion, i)
		require.NoError(t, err)
	}

	events, err := es.GetEventsFromVersion(ctx, "agg-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Version)
	assert.Equal(t, 5, events[1].Version)
}

func TestEventStore_GetEventsByType(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)
	_, _ = es.Append(ctx, "p-1", "Product", "ProductCreated", AnyVersion, struct{}{})
	_, _ = es.Append(ctx, "o-1", "Order", "OrderPlaced", AnyVersion, struct{}{})
	_, _ = es.Append(ctx, "p-2", "Product", "ProductCreated", AnyVersion, struct{}{})

	events, err := es.GetEventsByType(ctx, "Product")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	all, err := es.GetAllEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEventStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	es := NewEventStore(nil)

	s, err := es.GetSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "agg-1", Version: 20, State: json.RawMessage(`{"stock":1}`)}))
	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{AggregateID: "agg-1", Version: 10, State: json.RawMessage(`{"stock":9}`)}))

	s, err = es.GetSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 20, s.Version, "an older snapshot must not replace a newer one")
}

// ====================
// Filtering
// ====================

func eventsAt(base time.Time, n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{ID: string(rune('a' + i)), Version: i + 1, Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}
	return events
}

func TestApplyFilter_DescendingWithPagination(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := eventsAt(base, 5)

	page := ApplyFilter(events, EventFilter{Descending: true, Limit: 2, Offset: 1})
	require.Len(t, page, 2)
	assert.Equal(t, 4, page[0].Version)
	assert.Equal(t, 3, page[1].Version)
}

func TestApplyFilter_DateRangeInclusive(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := eventsAt(base, 5)

	got := ApplyFilter(events, EventFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, 4, got[2].Version)
}

func TestPaginate_Bounds(t *testing.T) {
	items := []int{1, 2, 3}
	assert.Equal(t, []int{1, 2, 3}, Paginate(items, 0, 0))
	assert.Equal(t, []int{2}, Paginate(items, 1, 1))
	assert.Empty(t, Paginate(items, 5, 3))
	assert.Equal(t, []int{1, 2, 3}, Paginate(items, 10, -1))
}
