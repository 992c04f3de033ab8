package inventory

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
	"github.com/rs/zerolog"
)

const AggregateType = "Inventory"

// DefaultHistoryLimit applies when a history query sets no limit.
const DefaultHistoryLimit = 50

// maxAppendAttempts bounds re-reads after losing an optimistic append race.
const maxAppendAttempts = 5

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("delta must be non-zero")
	ErrReasonRequired    = errors.New("adjustment reason is required")
)

// InsufficientStockError reports a rejected adjustment.
type InsufficientStockError struct {
	ProductID string
	Current   int
	Delta     int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, adjustment %d", e.ProductID, e.Current, e.Delta)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StreamID is the event stream holding a product's stock events.
func StreamID(productID string) string {
	return "stock-" + productID
}

// StockEvent is one immutable ledger entry.
type StockEvent struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id,omitempty"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Stock is the fold of a product's ledger. It is what snapshots store.
type Stock struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Version   int    `json:"version"`
}

func (s *Stock) GetID() string    { return StreamID(s.ProductID) }
func (s *Stock) GetVersion() int  { return s.Version }
func (s *Stock) SetVersion(v int) { s.Version = v }

func (s *Stock) ApplyEvent(event store.Event) error {
	if event.EventType != EventStockAdjusted {
		return nil
	}
	var data StockAdjusted
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return err
	}
	s.Quantity += data.Delta
	return nil
}

// HistoryQuery pages through a product's ledger, newest first.
type HistoryQuery struct {
	Limit  int
	Offset int
	From   time.Time
	To     time.Time
}

// Reconciliation compares the full fold with the snapshot-backed fold.
type Reconciliation struct {
	ProductID       string `json:"product_id"`
	CalculatedStock int    `json:"calculated_stock"`
	CachedStock     int    `json:"cached_stock"`
	Drift           int    `json:"drift"`
	Version         int    `json:"version"`
	EventCount      int    `json:"event_count"`
}

// Service is the stock ledger. It is the only writer of stock events.
type Service struct {
	eventStore store.EventStoreInterface
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{
		eventStore: es,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logging.Component("ledger"),
	}
}

// RecordAdjustment appends a signed delta. It fails with
// *InsufficientStockError when the resulting stock would be negative and
// leaves the ledger untouched.
func (s *Service) RecordAdjustment(ctx context.Context, productID string, delta int, reason, actorID string) (*StockEvent, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, errors.New("product id is required")
	}
	if delta == 0 {
		return nil, ErrInvalidQuantity
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		stock, err := s.load(ctx, productID)
		if err != nil {
			return nil, err
		}
		if stock.Quantity+delta < 0 {
			metrics.StockAdjustments.WithLabelValues("rejected").Inc()
			return nil, &InsufficientStockError{ProductID: productID, Current: stock.Quantity, Delta: delta}
		}

		data := StockAdjusted{
			ProductID: productID,
			Delta:     delta,
			Reason:    reason,
			ActorID:   actorID,
			CreatedAt: s.now(),
		}
		stored, err := s.eventStore.Append(ctx, StreamID(productID), AggregateType, EventStockAdjusted, stock.Version, data)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.StockAdjustments.WithLabelValues("conflict").Inc()
			s.log.Debug().Str("product_id", productID).Int("attempt", attempt).Msg("ledger append raced, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append stock event for %s: %w", productID, err)
		}

		stock.Quantity += delta
		stock.Version = stored.Version
		if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, stock, AggregateType); err != nil {
			s.log.Warn().Err(err).Str("product_id", productID).Msg("snapshot failed")
		}

		metrics.StockAdjustments.WithLabelValues("recorded").Inc()
		s.log.Info().
			Str("product_id", productID).
			Int("delta", delta).
			Str("reason", reason).
			Int("stock", stock.Quantity).
			Msg("stock adjusted")

		event := toStockEvent(*stored, data)
		return &event, nil
	}

	return nil, fmt.Errorf("record adjustment for %s after %d attempts: %w", productID, maxAppendAttempts, store.ErrVersionConflict)
}

// CurrentStock returns the sum of all deltas for productID.
func (s *Service) CurrentStock(ctx context.Context, productID string) (int, error) {
	stock, err := s.load(ctx, productID)
	if err != nil {
		return 0, err
	}
	return stock.Quantity, nil
}

// RecalculateStock folds every event, ignoring snapshots.
func (s *Service) RecalculateStock(ctx context.Context, productID string) (*Stock, int, error) {
	events, err := s.eventStore.GetEvents(ctx, StreamID(productID))
	if err != nil {
		return nil, 0, fmt.Errorf("load stock events for %s: %w", productID, err)
	}
	stock := &Stock{ProductID: productID}
	if err := aggregate.Replay(stock, events); err != nil {
		return nil, 0, err
	}
	return stock, len(events), nil
}

// Snapshot persists the full fold and returns it.
func (s *Service) Snapshot(ctx context.Context, productID string) (int, int, error) {
	stock, _, err := s.RecalculateStock(ctx, productID)
	if err != nil {
		return 0, 0, err
	}
	if stock.Version == 0 {
		return 0, 0, nil
	}
	if err := aggregate.SaveSnapshot(ctx, s.eventStore, stock, AggregateType); err != nil {
		return 0, 0, err
	}
	return stock.Quantity, stock.Version, nil
}

// History returns ledger entries ordered by createdAt descending.
func (s *Service) History(ctx context.Context, productID string, q HistoryQuery) ([]StockEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	events, err := s.eventStore.ListEvents(ctx, StreamID(productID), store.EventFilter{
		Limit:      limit,
		Offset:     q.Offset,
		From:       q.From,
		To:         q.To,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list stock events for %s: %w", productID, err)
	}

	out := make([]StockEvent, 0, len(events))
	for _, e := range events {
		var data StockAdjusted
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, fmt.Errorf("decode stock event %s: %w", e.ID, err)
		}
		out = append(out, toStockEvent(e, data))
	}
	return out, nil
}

// Reconcile recomputes stock from the full log, compares it with the cached
// fold and refreshes the snapshot.
func (s *Service) Reconcile(ctx context.Context, productID string) (*Reconciliation, error) {
	cached, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	full, count, err := s.RecalculateStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	result := &Reconciliation{
		ProductID:       productID,
		CalculatedStock: full.Quantity,
		CachedStock:     cached.Quantity,
		Drift:           full.Quantity - cached.Quantity,
		Version:         full.Version,
		EventCount:      count,
	}
	if result.Drift != 0 {
		s.log.Warn().Str("product_id", productID).Int("drift", result.Drift).Msg("snapshot drift corrected")
	}
	if full.Version > 0 {
		if err := aggregate.SaveSnapshot(ctx, s.eventStore, full, AggregateType); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Service) load(ctx context.Context, productID string) (*Stock, error) {
	stock, _, err := aggregate.Load(ctx, s.eventStore, StreamID(productID), func() *Stock {
		return &Stock{ProductID: productID}
	})
	if err != nil {
		return nil, fmt.Errorf("load stock for %s: %w", productID, err)
	}
	return stock, nil
}

func toStockEvent(e store.Event, data StockAdjusted) StockEvent {
	createdAt := data.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.Timestamp
	}
	return StockEvent{
		ID:        e.ID,
		ProductID: data.ProductID,
		Delta:     data.Delta,
		Reason:    data.Reason,
		ActorID:   data.ActorID,
		Version:   e.Version,
		CreatedAt: createdAt,
	}
}
