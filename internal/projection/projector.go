package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/rs/zerolog"
)

// Projector maintains the order listing read model from domain events.
type Projector struct {
	orders store.OrderReadStore
	// source fills version gaps when events arrive out of order. May be nil.
	source store.EventStoreInterface
	// locks serialize Apply per aggregate; ids hash onto a fixed stripe.
	locks  [32]sync.Mutex
	log    zerolog.Logger
}

func NewProjector(orders store.OrderReadStore, source store.EventStoreInterface) *Projector {
	return &Projector{
		orders: orders,
		source: source,
		log:    logging.Component("projector"),
	}
}

// HandleEvent decodes a JSON store.Event, as published to Kafka.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return p.Apply(ctx, event)
}

// Publish lets the projector sit behind an event store for inline projection.
func (p *Projector) Publish(ctx context.Context, _ string, event any) error {
	e, ok := event.(store.Event)
	if !ok {
		return fmt.Errorf("projector: unexpected event type %T", event)
	}
	return p.Apply(ctx, e)
}

// Apply projects one event. Events at or below the stored version are ignored.
func (p *Projector) Apply(ctx context.Context, event store.Event) error {
	if event.AggregateType != order.AggregateType {
		return nil
	}
	mu := p.lock(event.AggregateID)
	mu.Lock()
	defer mu.Unlock()

	current, err := p.orders.GetOrder(ctx, event.AggregateID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load order %s: %w", event.AggregateID, err)
	}

	o := &order.Order{}
	if current != nil {
		if event.Version <= current.Version {
			p.log.Debug().Str("order_id", event.AggregateID).Int("version", event.Version).Msg("duplicate event skipped")
			return nil
		}
		o = fromReadModel(current)
	}

	events := []store.Event{event}
	if event.Version > o.Version+1 {
		events = p.fillGap(ctx, event, o.Version)
	}
	for _, e := range events {
		if err := o.ApplyEvent(e); err != nil {
			return fmt.Errorf("apply %s v%d: %w", e.EventType, e.Version, err)
		}
	}
	if o.ID == "" {
		p.log.Warn().Str("order_id", event.AggregateID).Str("event_type", event.EventType).Msg("event for unknown order")
		return nil
	}

	if err := p.orders.SaveOrder(ctx, toReadModel(o)); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	p.log.Debug().Str("order_id", o.ID).Str("status", string(o.Status)).Int("version", o.Version).Msg("order projected")
	return nil
}

func (p *Projector) lock(aggregateID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return &p.locks[h.Sum32()%uint32(len(p.locks))]
}

func (p *Projector) fillGap(ctx context.Context, event store.Event, from int) []store.Event {
	if p.source == nil {
		p.log.Warn().Str("order_id", event.AggregateID).Int("have", from).Int("got", event.Version).Msg("event gap, applying out of order")
		return []store.Event{event}
	}
	missing, err := p.source.GetEventsFromVersion(ctx, event.AggregateID, from)
	if err != nil {
		p.log.Warn().Err(err).Str("order_id", event.AggregateID).Msg("gap fill failed, applying out of order")
		return []store.Event{event}
	}
	var out []store.Event
	for _, e := range missing {
		if e.Version <= event.Version {
			out = append(out, e)
		}
	}
	if len(out) == 0 || out[len(out)-1].Version != event.Version {
		out = append(out, event)
	}
	return out
}

// Replay projects every stored order event, oldest first.
func (p *Projector) Replay(ctx context.Context, es store.EventStoreInterface) (int, error) {
	start := time.Now()
	events, err := es.GetEventsByType(ctx, order.AggregateType)
	if err != nil {
		return 0, fmt.Errorf("load order events: %w", err)
	}
	applied := 0
	for _, e := range events {
		if err := p.Apply(ctx, e); err != nil {
			p.log.Error().Err(err).Str("order_id", e.AggregateID).Int("version", e.Version).Msg("replay failed for event")
			continue
		}
		applied++
	}
	p.log.Info().Int("events", applied).Dur("took", time.Since(start)).Msg("order read model rebuilt")
	return applied, nil
}

func fromReadModel(m *readmodel.OrderReadModel) *order.Order {
	items := make([]order.OrderItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = order.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Currency:  it.Currency,
		}
	}
	return &order.Order{
		ID:                m.ID,
		OrderNumber:       m.OrderNumber,
		CustomerEmail:     m.CustomerEmail,
		CustomerPhone:     m.CustomerPhone,
		Currency:          m.Currency,
		Items:             items,
		Subtotal:          m.Subtotal,
		ShippingCost:      m.ShippingCost,
		Total:             m.Total,
		Status:            order.Status(m.Status),
		PaymentStatus:     order.PaymentStatus(m.PaymentStatus),
		TrackingNumber:    m.TrackingNumber,
		TrackingURL:       m.TrackingURL,
		Carrier:           m.Carrier,
		EstimatedDelivery: m.EstimatedDelivery,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		Version:           m.Version,
	}
}

func toReadModel(o *order.Order) *readmodel.OrderReadModel {
	items := make([]readmodel.OrderItemReadModel, len(o.Items))
	for i, it := range o.Items {
		items[i] = readmodel.OrderItemReadModel{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Currency:  it.Currency,
		}
	}
	return &readmodel.OrderReadModel{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		CustomerEmail:     o.CustomerEmail,
		CustomerPhone:     o.CustomerPhone,
		Currency:          o.Currency,
		Items:             items,
		Subtotal:          o.Subtotal,
		ShippingCost:      o.ShippingCost,
		Total:             o.Total,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		TrackingNumber:    o.TrackingNumber,
		TrackingURL:       o.TrackingURL,
		Carrier:           o.Carrier,
		EstimatedDelivery: o.EstimatedDelivery,
		Version:           o.Version,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
