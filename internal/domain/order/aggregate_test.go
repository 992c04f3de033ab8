package order

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(opts ...Option) (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore, opts...)
	return service, eventStore
}

func testItems() []OrderItem {
	return []OrderItem{
		{ProductID: "prod-1", Name: "Mug", Quantity: 2, Price: decimal.RequireFromString("10.50")},
		{ProductID: "prod-2", Name: "Teapot", Quantity: 1, Price: decimal.RequireFromString("20.00")},
	}
}

func placeTestOrder(t *testing.T, service *Service) *Order {
	t.Helper()
	o, err := service.Place(context.Background(), PlaceParams{
		CustomerEmail: "buyer@example.com",
		Currency:      "usd",
		Items:         testItems(),
		ShippingCost:  decimal.RequireFromString("4.99"),
		Actor:         "customer",
	})
	require.NoError(t, err)
	return o
}

// seedOrder stores an order already in status, bypassing validation.
func seedOrder(t *testing.T, eventStore *mocks.MockEventStore, id string, status Status) {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, eventStore.AddEvent(id, AggregateType, EventOrderPlaced, OrderPlaced{
		OrderID:       id,
		OrderNumber:   NewOrderNumber(now, id),
		CustomerEmail: "buyer@example.com",
		Currency:      "USD",
		Items:         testItems(),
		Subtotal:      decimal.RequireFromString("41"),
		Total:         decimal.RequireFromString("41"),
		PlacedAt:      now,
	}))
	if status != StatusPending {
		require.NoError(t, eventStore.AddEvent(id, AggregateType, EventOrderStatusChanged, OrderStatusChanged{
			OrderID:   id,
			From:      StatusPending,
			To:        status,
			ChangedBy: "seed",
			ChangedAt: now,
		}))
	}
}

// ============================================
// Place Order Tests
// ============================================

func TestService_Place_Success(t *testing.T) {
	service, eventStore := newTestOrderService()

	order := placeTestOrder(t, service)

	assert.NotEmpty(t, order.ID)
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{8}$`), order.OrderNumber)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, PaymentPending, order.PaymentStatus)
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("41.00")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("45.99")))
	assert.Equal(t, 1, order.Version)
	for _, item := range order.Items {
		assert.Equal(t, "USD", item.Currency)
	}

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventOrderPlaced, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
	assert.Equal(t, 0, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Place_ValidationErrors(t *testing.T) {
	valid := PlaceParams{CustomerEmail: "a@b.c", Currency: "USD", Items: testItems()}

	tests := []struct {
		name   string
		mutate func(*PlaceParams)
		want   error
	}{
		{"no email", func(p *PlaceParams) { p.CustomerEmail = " " }, ErrCustomerEmailRequired},
		{"no items", func(p *PlaceParams) { p.Items = nil }, ErrEmptyOrder},
		{"zero quantity", func(p *PlaceParams) { p.Items = []OrderItem{{ProductID: "p", Quantity: 0}} }, ErrInvalidQuantity},
		{"negative price", func(p *PlaceParams) {
			p.Items = []OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(-1)}}
		}, ErrInvalidPrice},
		{"currency mismatch", func(p *PlaceParams) {
			p.Items = []OrderItem{{ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(1), Currency: "EUR"}}
		}, ErrCurrencyMismatch},
		{"negative shipping", func(p *PlaceParams) { p.ShippingCost = decimal.NewFromInt(-2) }, ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, eventStore := newTestOrderService()
			params := valid
			tt.mutate(&params)

			order, err := service.Place(context.Background(), params)

			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, order)
			assert.Empty(t, eventStore.AppendCalls)
		})
	}
}

func TestService_Place_StoreError(t *testing.T) {
	service, eventStore := newTestOrderService()
	eventStore.AppendErr = errors.New("db unavailable")

	_, err := service.Place(context.Background(), PlaceParams{CustomerEmail: "a@b.c", Currency: "USD", Items: testItems()})

	assert.EqualError(t, err, "db unavailable")
}

func TestNewOrderNumber(t *testing.T) {
	at := time.Date(2026, 2, 3, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, "ORD-20260203-9F1C2ABE", NewOrderNumber(at, "9f1c2abe-0000-4000-8000-000000000000"))
}

// ============================================
// UpdateStatus Tests
// ============================================

func TestService_UpdateStatus_EveryPair(t *testing.T) {
	ctx := context.Background()

	for _, from := range Statuses() {
		for _, to := range Statuses() {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				service, eventStore := newTestOrderService()
				seedOrder(t, eventStore, "order-1", from)
				before, err := service.History(ctx, "order-1", Page{})
				require.NoError(t, err)
				eventsBefore := eventStore.Appended("order-1")

				updated, err := service.UpdateStatus(ctx, "order-1", to, "admin", "")

				after, histErr := service.History(ctx, "order-1", Page{})
				require.NoError(t, histErr)
				current, getErr := service.Get(ctx, "order-1")
				require.NoError(t, getErr)

				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, updated.Status)
					assert.Equal(t, to, current.Status)
					assert.Len(t, after, len(before)+1)
					assert.Equal(t, eventsBefore+1, eventStore.Appended("order-1"))
					last := after[len(after)-1]
					assert.Equal(t, from, last.From)
					assert.Equal(t, to, last.Status)
					assert.Equal(t, "admin", last.CreatedBy)
				} else {
					require.Error(t, err)
					assert.ErrorIs(t, err, ErrInvalidTransition)
					var te *TransitionError
					require.True(t, errors.As(err, &te))
					assert.Equal(t, from, te.From)
					assert.Equal(t, to, te.To)
					assert.Nil(t, updated)
					assert.Equal(t, from, current.Status)
					assert.Len(t, after, len(before))
					assert.Equal(t, eventsBefore, eventStore.Appended("order-1"))
				}
			})
		}
	}
}

func TestService_UpdateStatus_ProcessingToDelivered(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusProcessing)

	_, err := service.UpdateStatus(ctx, "order-1", StatusDelivered, "admin", "")

	assert.ErrorIs(t, err, ErrInvalidTransition)
	current, err := service.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, current.Status)
}

func TestService_UpdateStatus_PaymentStatusFollows(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	order := placeTestOrder(t, service)

	paid, err := service.UpdateStatus(ctx, order.ID, StatusPaid, "payments", "captured")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)

	refunded, err := service.UpdateStatus(ctx, order.ID, StatusRefunded, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, refunded.PaymentStatus)
	assert.True(t, refunded.Total.Equal(order.Total))
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	service, _ := newTestOrderService()

	_, err := service.UpdateStatus(context.Background(), "missing", StatusPaid, "admin", "")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_UpdateStatus_UnknownStatus(t *testing.T) {
	service, eventStore := newTestOrderService()
	seedOrder(t, eventStore, "order-1", StatusPending)

	_, err := service.UpdateStatus(context.Background(), "order-1", Status("SHIPPED"), "admin", "")

	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestService_UpdateStatus_DeliveryAttemptCap(t *testing.T) {
	service, eventStore := newTestOrderService(WithMaxDeliveryAttempts(3))
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusInTransit)

	steps := []Status{
		StatusOutForDelivery, StatusFailed,
		StatusOutForDelivery, StatusFailed,
		StatusOutForDelivery, StatusFailed,
	}
	for _, s := range steps {
		_, err := service.UpdateStatus(ctx, "order-1", s, "carrier", "")
		require.NoError(t, err, s)
	}

	_, err := service.UpdateStatus(ctx, "order-1", StatusOutForDelivery, "carrier", "")

	assert.ErrorIs(t, err, ErrDeliveryAttemptsExceeded)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	current, err := service.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3, current.DeliveryAttempts)
	assert.Equal(t, StatusFailed, current.Status)

	refunded, err := service.UpdateStatus(ctx, "order-1", StatusRefunded, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
}

func TestService_UpdateStatus_RetriesBenignConflict(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusPaid)

	eventStore.AppendCallback = func(cbCtx context.Context, id, aggType, evtType string, expected int, data any) (*store.Event, error) {
		eventStore.AppendCallback = nil
		require.NoError(t, eventStore.AddEvent(id, AggregateType, EventOrderRestocked, OrderRestocked{OrderID: id, Reason: "test"}))
		return nil, store.ErrVersionConflict
	}

	updated, err := service.UpdateStatus(ctx, "order-1", StatusProcessing, "admin", "")

	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, 4, updated.Version)
	assert.Len(t, eventStore.AppendCalls, 2)
	assert.Equal(t, 3, eventStore.AppendCalls[1].ExpectedVersion)
}

func TestService_UpdateStatus_RevalidatesAfterConflict(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusPaid)

	// Another writer cancels the order between our read and our append.
	eventStore.AppendCallback = func(context.Context, string, string, string, int, any) (*store.Event, error) {
		eventStore.AppendCallback = nil
		require.NoError(t, eventStore.AddEvent("order-1", AggregateType, EventOrderStatusChanged, OrderStatusChanged{
			OrderID: "order-1", From: StatusPaid, To: StatusCancelled, ChangedBy: "other",
		}))
		return nil, store.ErrVersionConflict
	}

	_, err := service.UpdateStatus(ctx, "order-1", StatusProcessing, "admin", "")

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusCancelled, te.From)
	assert.Equal(t, StatusProcessing, te.To)
	assert.Equal(t, 3, eventStore.Appended("order-1"))
}

func TestService_UpdateStatus_SnapshotRoundTrip(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	order := placeTestOrder(t, service)

	path := []Status{
		StatusPaymentPending, StatusPaid, StatusProcessing, StatusReadyForDispatch,
		StatusDispatched, StatusInTransit, StatusOutForDelivery, StatusFailed,
		StatusOutForDelivery, StatusFailed, StatusRefunded,
	}
	var last *Order
	for _, s := range path {
		var err error
		last, err = service.UpdateStatus(ctx, order.ID, s, "admin", "")
		require.NoError(t, err, s)
	}

	require.NotEmpty(t, eventStore.SaveSnapshotCalls)
	assert.Equal(t, store.SnapshotThreshold, eventStore.SaveSnapshotCalls[0].Version)

	reloaded, err := service.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, reloaded.Status)
	assert.Equal(t, PaymentRefunded, reloaded.PaymentStatus)
	assert.Equal(t, 2, reloaded.DeliveryAttempts)
	assert.Equal(t, last.Version, reloaded.Version)
	assert.True(t, reloaded.Total.Equal(order.Total))
	assert.Equal(t, order.OrderNumber, reloaded.OrderNumber)

	history, err := service.History(ctx, order.ID, Page{})
	require.NoError(t, err)
	assert.Len(t, history, len(path)+1)
}

// ============================================
// Dispatch Tests
// ============================================

func TestService_Dispatch_FromProcessing(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusProcessing)
	eta := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	order, err := service.Dispatch(ctx, "order-1", ShipmentDetails{
		TrackingNumber:    "WB123",
		TrackingURL:       "https://track.example/WB123",
		Carrier:           "ACME",
		EstimatedDelivery: &eta,
	}, "ops")

	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, order.Status)
	assert.Equal(t, "WB123", order.TrackingNumber)
	assert.Equal(t, "ACME", order.Carrier)
	require.NotNil(t, order.EstimatedDelivery)
	assert.True(t, eta.Equal(*order.EstimatedDelivery))
	assert.Equal(t, 3, eventStore.Appended("order-1"))

	history, err := service.History(ctx, "order-1", Page{})
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, StatusProcessing, history[2].From)
	assert.Equal(t, StatusReadyForDispatch, history[2].Status)
	assert.Equal(t, StatusReadyForDispatch, history[3].From)
	assert.Equal(t, StatusDispatched, history[3].Status)
	assert.Equal(t, "ops", history[3].CreatedBy)
}

func TestService_Dispatch_FromReadyForDispatch(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusReadyForDispatch)

	_, err := service.Dispatch(ctx, "order-1", ShipmentDetails{TrackingNumber: "WB1"}, "ops")
	require.NoError(t, err)

	history, err := service.History(ctx, "order-1", Page{})
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestService_Dispatch_Twice(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusProcessing)

	_, err := service.Dispatch(ctx, "order-1", ShipmentDetails{TrackingNumber: "WB1"}, "ops")
	require.NoError(t, err)
	_, err = service.Dispatch(ctx, "order-1", ShipmentDetails{TrackingNumber: "WB2"}, "ops")

	assert.ErrorIs(t, err, ErrShipmentAlreadyExists)
	current, err := service.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "WB1", current.TrackingNumber)
}

func TestService_Dispatch_WrongStatus(t *testing.T) {
	service, eventStore := newTestOrderService()
	seedOrder(t, eventStore, "order-1", StatusPaid)

	_, err := service.Dispatch(context.Background(), "order-1", ShipmentDetails{TrackingNumber: "WB1"}, "ops")

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 2, eventStore.Appended("order-1"))
}

func TestService_Dispatch_RequiresTracking(t *testing.T) {
	service, eventStore := newTestOrderService()
	seedOrder(t, eventStore, "order-1", StatusProcessing)

	_, err := service.Dispatch(context.Background(), "order-1", ShipmentDetails{}, "ops")

	assert.ErrorIs(t, err, ErrTrackingNumberRequired)
	assert.Empty(t, eventStore.AppendCalls)
}

// ============================================
// Restock / Get / History Tests
// ============================================

func TestService_MarkRestocked_Once(t *testing.T) {
	service, eventStore := newTestOrderService()
	ctx := context.Background()
	seedOrder(t, eventStore, "order-1", StatusCancelled)

	order, err := service.MarkRestocked(ctx, "order-1", "order_cancelled", "system")
	require.NoError(t, err)
	assert.True(t, order.Restocked)
	assert.Equal(t, StatusCancelled, order.Status)

	_, err = service.MarkRestocked(ctx, "order-1", "order_refunded", "system")
	assert.ErrorIs(t, err, ErrAlreadyRestocked)
	assert.Equal(t, 3, eventStore.Appended("order-1"))
}

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestOrderService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_History_NotFound(t *testing.T) {
	service, _ := newTestOrderService()

	_, err := service.History(context.Background(), "missing", Page{})

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_History_Paginated(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	order := placeTestOrder(t, service)
	for _, s := range []Status{StatusPaid, StatusProcessing, StatusCancelled} {
		_, err := service.UpdateStatus(ctx, order.ID, s, "admin", "note "+string(s))
		require.NoError(t, err)
	}

	page, err := service.History(ctx, order.ID, Page{Limit: 2, Offset: 1})

	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, StatusPaid, page[0].Status)
	assert.Equal(t, "note PAID", page[0].Note)
	assert.Equal(t, StatusProcessing, page[1].Status)
}
