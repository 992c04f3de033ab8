package projection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeParams() order.PlaceParams {
	return order.PlaceParams{
		CustomerEmail: "buyer@example.com",
		Currency:      "usd",
		Items: []order.OrderItem{
			{ProductID: "p-1", Name: "Mug", Quantity: 2, Price: decimal.RequireFromString("7.50")},
		},
		ShippingCost: decimal.RequireFromString("5"),
		Actor:        "admin",
	}
}

// seedOrder places an order and walks it to PROCESSING without projecting.
func seedOrder(t *testing.T, es *store.EventStore) *order.Order {
	t.Helper()
	ctx := context.Background()
	svc := order.NewService(es)

	o, err := svc.Place(ctx, placeParams())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusPaid, "admin", "")
	require.NoError(t, err)
	o, err = svc.UpdateStatus(ctx, o.ID, order.StatusProcessing, "admin", "")
	require.NoError(t, err)
	return o
}

// ============================================
// Apply Tests
// ============================================

func TestProjector_OrderPlaced(t *testing.T) {
	es := store.NewEventStore(nil)
	o := seedOrder(t, es)
	events, err := es.GetEvents(context.Background(), o.ID)
	require.NoError(t, err)

	rs := store.NewReadStore()
	p := NewProjector(rs, nil)
	require.NoError(t, p.Apply(context.Background(), events[0]))

	got, err := rs.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, "PENDING", got.Status)
	assert.Equal(t, "PENDING", got.PaymentStatus)
	assert.Equal(t, "USD", got.Currency)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("7.50")))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, 1, got.Version)
}

func TestProjector_InlineFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	rs := store.NewReadStore()
	p := NewProjector(rs, nil)
	es := store.NewEventStore(p)
	svc := order.NewService(es)

	o := seedOrder(t, es)
	_, err := svc.Dispatch(ctx, o.ID, order.ShipmentDetails{TrackingNumber: "WB-1", Carrier: "MOCK"}, "admin")
	require.NoError(t, err)

	got, err := rs.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "DISPATCHED", got.Status)
	assert.Equal(t, "PAID", got.PaymentStatus)
	assert.Equal(t, "WB-1", got.TrackingNumber)
	assert.Equal(t, "MOCK", got.Carrier)
	assert.Equal(t, 4, got.Version)

	active, err := rs.ListOrders(ctx, readmodel.OrderFilter{Statuses: []string{"DISPATCHED"}, WithTracking: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, o.ID, active[0].ID)
}

func TestProjector_DuplicateIgnored(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	o := seedOrder(t, es)
	events, _ := es.GetEvents(ctx, o.ID)

	rs := store.NewReadStore()
	p := NewProjector(rs, nil)
	for _, e := range events {
		require.NoError(t, p.Apply(ctx, e))
	}
	require.NoError(t, p.Apply(ctx, events[1]))

	got, err := rs.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", got.Status)
	assert.Equal(t, 3, got.Version)
}

func TestProjector_FillsGapFromSource(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	o := seedOrder(t, es)
	events, _ := es.GetEvents(ctx, o.ID)
	require.Len(t, events, 3)

	rs := store.NewReadStore()
	p := NewProjector(rs, es)
	require.NoError(t, p.Apply(ctx, events[0]))
	require.NoError(t, p.Apply(ctx, events[2]))

	got, err := rs.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", got.Status)
	assert.Equal(t, "PAID", got.PaymentStatus)
	assert.Equal(t, 3, got.Version)

	// The late event is now a duplicate.
	require.NoError(t, p.Apply(ctx, events[1]))
	got, _ = rs.GetOrder(ctx, o.ID)
	assert.Equal(t, "PROCESSING", got.Status)
}

// seedShipped dispatches a seeded order and moves it to IN_TRANSIT.
func seedShipped(t *testing.T, es *store.EventStore) []store.Event {
	t.Helper()
	ctx := context.Background()
	svc := order.NewService(es)
	o := seedOrder(t, es)
	_, err := svc.Dispatch(ctx, o.ID, order.ShipmentDetails{TrackingNumber: "WB-9", Carrier: "MOCK"}, "admin")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusInTransit, "admin", "")
	require.NoError(t, err)

	events, err := es.GetEvents(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	return events
}

func TestProjector_LateDispatchKeepsTracking(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	events := seedShipped(t, es)

	rs := store.NewReadStore()
	p := NewProjector(rs, es)
	for _, i := range []int{0, 1, 2, 4, 3} {
		require.NoError(t, p.Apply(ctx, events[i]))
	}

	got, err := rs.GetOrder(ctx, events[0].AggregateID)
	require.NoError(t, err)
	assert.Equal(t, "IN_TRANSIT", got.Status)
	assert.Equal(t, "WB-9", got.TrackingNumber)
	assert.Equal(t, 5, got.Version)

	active, err := rs.ListOrders(ctx, readmodel.OrderFilter{Statuses: []string{"IN_TRANSIT"}, WithTracking: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestProjector_ConcurrentApplyConverges(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	events := seedShipped(t, es)

	rs := store.NewReadStore()
	p := NewProjector(rs, es)

	var wg sync.WaitGroup
	for i := len(events) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(e store.Event) {
			defer wg.Done()
			assert.NoError(t, p.Apply(ctx, e))
		}(events[i])
	}
	wg.Wait()

	got, err := rs.GetOrder(ctx, events[0].AggregateID)
	require.NoError(t, err)
	assert.Equal(t, "IN_TRANSIT", got.Status)
	assert.Equal(t, "WB-9", got.TrackingNumber)
	assert.Equal(t, 5, got.Version)
}

func TestProjector_IgnoresOtherAggregates(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs, nil)

	err := p.Apply(context.Background(), store.Event{
		AggregateID:   inventory.StreamID("p-1"),
		AggregateType: inventory.AggregateType,
		EventType:     inventory.EventStockAdjusted,
		Version:       1,
	})
	require.NoError(t, err)

	list, err := rs.ListOrders(context.Background(), readmodel.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProjector_StatusChangeForUnknownOrder(t *testing.T) {
	rs := store.NewReadStore()
	p := NewProjector(rs, nil)
	data, _ := json.Marshal(order.OrderStatusChanged{OrderID: "ghost", From: order.StatusPending, To: order.StatusPaid})

	err := p.Apply(context.Background(), store.Event{
		AggregateID:   "ghost",
		AggregateType: order.AggregateType,
		EventType:     order.EventOrderStatusChanged,
		Data:          data,
		Version:       2,
	})
	require.NoError(t, err)

	_, err = rs.GetOrder(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ============================================
// HandleEvent / Publish Tests
// ============================================

func TestProjector_HandleEvent(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	o := seedOrder(t, es)
	events, _ := es.GetEvents(ctx, o.ID)

	rs := store.NewReadStore()
	p := NewProjector(rs, nil)
	value, err := json.Marshal(events[0])
	require.NoError(t, err)

	require.NoError(t, p.HandleEvent(ctx, []byte(o.ID), value))
	_, err = rs.GetOrder(ctx, o.ID)
	assert.NoError(t, err)

	assert.Error(t, p.HandleEvent(ctx, nil, []byte("not json")))
}

func TestProjector_Publish_RejectsForeignType(t *testing.T) {
	p := NewProjector(store.NewReadStore(), nil)
	assert.Error(t, p.Publish(context.Background(), "k", "not an event"))
}

func TestProjector_Replay(t *testing.T) {
	ctx := context.Background()
	es := store.NewEventStore(nil)
	first := seedOrder(t, es)
	second := seedOrder(t, es)

	rs := store.NewReadStore()
	n, err := NewProjector(rs, es).Replay(ctx, es)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	for _, id := range []string{first.ID, second.ID} {
		got, err := rs.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "PROCESSING", got.Status)
	}
}
