package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/aggregate"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

// DefaultMaxDeliveryAttempts caps how often an order may enter OUT_FOR_DELIVERY.
const DefaultMaxDeliveryAttempts = 3

const maxAppendAttempts = 5

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrEmptyOrder               = errors.New("order must have at least one item")
	ErrInvalidQuantity          = errors.New("item quantity must be positive")
	ErrInvalidPrice             = errors.New("item price must not be negative")
	ErrCurrencyMismatch         = errors.New("item currency differs from order currency")
	ErrCustomerEmailRequired    = errors.New("customer email is required")
	ErrInvalidTransition        = errors.New("invalid order status transition")
	ErrDeliveryAttemptsExceeded = errors.New("delivery attempts exceeded")
	ErrShipmentAlreadyExists    = errors.New("shipment already exists for order")
	ErrTrackingNumberRequired   = errors.New("tracking number is required")
	ErrAlreadyRestocked         = errors.New("order already restocked")
)

// TransitionError is returned for every rejected status change. It matches
// ErrInvalidTransition and unwraps to Reason when one is set.
type TransitionError struct {
	From   Status
	To     Status
	Reason error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func (e *TransitionError) Unwrap() error { return e.Reason }

type Order struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"order_number"`
	CustomerEmail     string          `json:"customer_email"`
	CustomerPhone     string          `json:"customer_phone,omitempty"`
	ShippingAddress   Address         `json:"shipping_address"`
	Currency          string          `json:"currency"`
	Items             []OrderItem     `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Total             decimal.Decimal `json:"total"`
	Status            Status          `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	TrackingURL       string          `json:"tracking_url,omitempty"`
	Carrier           string          `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	DeliveryAttempts  int             `json:"delivery_attempts"`
	Restocked         bool            `json:"restocked"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.OrderNumber = data.OrderNumber
		o.CustomerEmail = data.CustomerEmail
		o.CustomerPhone = data.CustomerPhone
		o.ShippingAddress = data.ShippingAddress
		o.Currency = data.Currency
		o.Items = data.Items
		o.Subtotal = data.Subtotal
		o.ShippingCost = data.ShippingCost
		o.Total = data.Total
		o.Status = StatusPending
		o.PaymentStatus = PaymentPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventOrderStatusChanged:
		var data OrderStatusChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.enter(data.To)
		o.UpdatedAt = data.ChangedAt
	case EventOrderDispatched:
		var data OrderDispatched
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		for _, s := range data.Path {
			o.enter(s)
		}
		o.TrackingNumber = data.TrackingNumber
		o.TrackingURL = data.TrackingURL
		o.Carrier = data.Carrier
		o.EstimatedDelivery = data.EstimatedDelivery
		o.UpdatedAt = data.DispatchedAt
	case EventOrderRestocked:
		var data OrderRestocked
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Restocked = true
		o.UpdatedAt = data.RestockedAt
	}
	o.Version = event.Version
	return nil
}

func (o *Order) enter(s Status) {
	o.Status = s
	switch s {
	case StatusPaid:
		o.PaymentStatus = PaymentPaid
	case StatusRefunded:
		o.PaymentStatus = PaymentRefunded
	case StatusOutForDelivery:
		o.DeliveryAttempts++
	}
}

// checkTransition validates o.Status → to against the table and the
// delivery attempt cap.
func (o *Order) checkTransition(to Status, maxDeliveryAttempts int) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	if to == StatusOutForDelivery && o.Status == StatusFailed && o.DeliveryAttempts >= maxDeliveryAttempts {
		return &TransitionError{From: o.Status, To: to, Reason: ErrDeliveryAttemptsExceeded}
	}
	return nil
}

// DispatchPath returns the statuses a shipment moves the order through.
func (o *Order) DispatchPath() ([]Status, error) {
	if o.TrackingNumber != "" {
		return nil, ErrShipmentAlreadyExists
	}
	var path []Status
	switch o.Status {
	case StatusProcessing:
		path = []Status{StatusReadyForDispatch, StatusDispatched}
	case StatusReadyForDispatch:
		path = []Status{StatusDispatched}
	default:
		return nil, &TransitionError{From: o.Status, To: StatusDispatched}
	}
	from := o.Status
	for _, to := range path {
		if !CanTransition(from, to) {
			return nil, &TransitionError{From: from, To: to}
		}
		from = to
	}
	return path, nil
}

// PlaceParams carries an order whose item prices are already resolved.
type PlaceParams struct {
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress Address
	Currency        string
	Items           []OrderItem
	ShippingCost    decimal.Decimal
	Actor           string
}

// ShipmentDetails are the tracking fields returned by the carrier.
type ShipmentDetails struct {
	TrackingNumber    string
	TrackingURL       string
	Carrier           string
	EstimatedDelivery *time.Time
	Note              string
}

type Option func(*Service)

func WithMaxDeliveryAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDeliveryAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	eventStore          store.EventStoreInterface
	maxDeliveryAttempts int
	now                 func() time.Time
	log                 zerolog.Logger
}

func NewService(es store.EventStoreInterface, opts ...Option) *Service {
	s := &Service{
		eventStore:          es,
		maxDeliveryAttempts: DefaultMaxDeliveryAttempts,
		now:                 func() time.Time { return time.Now().UTC() },
		log:                 logging.Component("order"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(at time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

func (s *Service) Place(ctx context.Context, params PlaceParams) (*Order, error) {
	if strings.TrimSpace(params.CustomerEmail) == "" {
		return nil, ErrCustomerEmailRequired
	}
	if len(params.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))

	items := make([]OrderItem, len(params.Items))
	subtotal := decimal.Zero
	for i, item := range params.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, item.ProductID)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, item.ProductID)
		}
		item.Currency = strings.ToUpper(strings.TrimSpace(item.Currency))
		if item.Currency == "" {
			item.Currency = currency
		}
		if item.Currency != currency {
			return nil, fmt.Errorf("%w: %s is %s", ErrCurrencyMismatch, item.ProductID, item.Currency)
		}
		items[i] = item
		subtotal = subtotal.Add(item.LineTotal())
	}
	shipping := params.ShippingCost
	if shipping.IsNegative() {
		return nil, ErrInvalidPrice
	}

	orderID := uuid.New().String()
	now := s.now()
	event := OrderPlaced{
		OrderID:         orderID,
		OrderNumber:     NewOrderNumber(now, orderID),
		CustomerEmail:   strings.TrimSpace(params.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(params.CustomerPhone),
		ShippingAddress: params.ShippingAddress,
		Currency:        currency,
		Items:           items,
		Subtotal:        subtotal,
		ShippingCost:    shipping,
		Total:           subtotal.Add(shipping),
		PlacedBy:        params.Actor,
		PlacedAt:        now,
	}

	stored, err := s.eventStore.Append(ctx, orderID, AggregateType, EventOrderPlaced, 0, event)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		return nil, err
	}

	order := &Order{}
	if err := aggregate.Replay(order, []store.Event{*stored}); err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.WithLabelValues("placed").Inc()
	s.log.Info().Str("order_id", order.ID).Str("order_number", order.OrderNumber).Str("total", order.Total.String()).Msg("order placed")
	return order, nil
}

// UpdateStatus validates and records one transition. A lost race reloads the
// order and validates again against the new status.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, actor, note string) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	return s.mutate(ctx, orderID, func(o *Order) (string, any, error) {
		if err := o.checkTransition(to, s.maxDeliveryAttempts); err != nil {
			metrics.OrderTransitions.WithLabelValues(string(o.Status), string(to), "rejected").Inc()
			return "", nil, err
		}
		return EventOrderStatusChanged, OrderStatusChanged{
			OrderID:   o.ID,
			From:      o.Status,
			To:        to,
			Note:      note,
			ChangedBy: actor,
			ChangedAt: s.now(),
		}, nil
	}, func(before Status, o *Order) {
		metrics.OrderTransitions.WithLabelValues(string(before), string(o.Status), "accepted").Inc()
		s.log.Info().Str("order_id", o.ID).Str("from", string(before)).Str("to", string(o.Status)).Str("actor", actor).Msg("order status changed")
	})
}

// Dispatch attaches tracking details and moves the order to DISPATCHED in one event.
func (s *Service) Dispatch(ctx context.Context, orderID string, details ShipmentDetails, actor string) (*Order, error) {
	if strings.TrimSpace(details.TrackingNumber) == "" {
		return nil, ErrTrackingNumberRequired
	}
	return s.mutate(ctx, orderID, func(o *Order) (string, any, error) {
		path, err := o.DispatchPath()
		if err != nil {
			return "", nil, err
		}
		return EventOrderDispatched, OrderDispatched{
			OrderID:           o.ID,
			From:              o.Status,
			Path:              path,
			TrackingNumber:    details.TrackingNumber,
			TrackingURL:       details.TrackingURL,
			Carrier:           details.Carrier,
			EstimatedDelivery: details.EstimatedDelivery,
			Note:              details.Note,
			DispatchedBy:      actor,
			DispatchedAt:      s.now(),
		}, nil
	}, func(before Status, o *Order) {
		metrics.OrderTransitions.WithLabelValues(string(before), string(o.Status), "accepted").Inc()
		s.log.Info().Str("order_id", o.ID).Str("tracking_number", o.TrackingNumber).Str("carrier", o.Carrier).Msg("order dispatched")
	})
}

// MarkRestocked claims the order's restock. Only the first caller succeeds.
func (s *Service) MarkRestocked(ctx context.Context, orderID, reason, actor string) (*Order, error) {
	return s.mutate(ctx, orderID, func(o *Order) (string, any, error) {
		if o.Restocked {
			return "", nil, ErrAlreadyRestocked
		}
		return EventOrderRestocked, OrderRestocked{
			OrderID:     o.ID,
			Reason:      reason,
			RestockedBy: actor,
			RestockedAt: s.now(),
		}, nil
	}, nil)
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	order, found, err := aggregate.Load(ctx, s.eventStore, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found || order.ID == "" {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// mutate runs decide against the latest order and appends its event at the
// loaded version, retrying on a version conflict.
func (s *Service) mutate(
	ctx context.Context,
	orderID string,
	decide func(*Order) (string, any, error),
	done func(before Status, o *Order),
) (*Order, error) {
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		before := order.Status

		eventType, data, err := decide(order)
		if err != nil {
			return nil, err
		}

		stored, err := s.eventStore.Append(ctx, orderID, AggregateType, eventType, order.Version, data)
		if errors.Is(err, store.ErrVersionConflict) {
			s.log.Debug().Str("order_id", orderID).Int("attempt", attempt).Msg("order append raced, reloading")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append %s for %s: %w", eventType, orderID, err)
		}

		if err := order.ApplyEvent(*stored); err != nil {
			return nil, err
		}
		if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, order, AggregateType); err != nil {
			s.log.Warn().Err(err).Str("order_id", orderID).Msg("snapshot failed")
		}
		if done != nil {
			done(before, order)
		}
		return order, nil
	}
	return nil, fmt.Errorf("update order %s after %d attempts: %w", orderID, maxAppendAttempts, store.ErrVersionConflict)
}
