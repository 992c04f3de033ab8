package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// HistoryEntry is one accepted status change. The first entry of every order
// is its placement into PENDING.
type HistoryEntry struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from,omitempty"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

type Page struct {
	Limit  int
	Offset int
}

// History rebuilds the status audit trail from the order's events, oldest first.
func (s *Service) History(ctx context.Context, orderID string, page Page) ([]HistoryEntry, error) {
	events, err := s.eventStore.GetEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrOrderNotFound
	}

	entries, err := historyFromEvents(events)
	if err != nil {
		return nil, err
	}
	return store.Paginate(entries, page.Limit, page.Offset), nil
}

func historyFromEvents(events []store.Event) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	for _, e := range events {
		switch e.EventType {
		case EventOrderPlaced:
			var data OrderPlaced
			if err := json.Unmarshal(e.Data, &data); err != nil {
				return nil, fmt.Errorf("decode %s: %w", e.EventType, err)
			}
			entries = append(entries, HistoryEntry{
				OrderID:   data.OrderID,
				Status:    StatusPending,
				Note:      "order placed",
				CreatedBy: data.PlacedBy,
				CreatedAt: data.PlacedAt,
				Version:   e.Version,
			})
		case EventOrderStatusChanged:
			var data OrderStatusChanged
			if err := json.Unmarshal(e.Data, &data); err != nil {
				return nil, fmt.Errorf("decode %s: %w", e.EventType, err)
			}
			entries = append(entries, HistoryEntry{
				OrderID:   data.OrderID,
				From:      data.From,
				Status:    data.To,
				Note:      data.Note,
				CreatedBy: data.ChangedBy,
				CreatedAt: data.ChangedAt,
				Version:   e.Version,
			})
		case EventOrderDispatched:
			var data OrderDispatched
			if err := json.Unmarshal(e.Data, &data); err != nil {
				return nil, fmt.Errorf("decode %s: %w", e.EventType, err)
			}
			from := data.From
			for _, to := range data.Path {
				note := data.Note
				if to == StatusDispatched && note == "" {
					note = "tracking " + data.TrackingNumber
				}
				entries = append(entries, HistoryEntry{
					OrderID:   data.OrderID,
					From:      from,
					Status:    to,
					Note:      note,
					CreatedBy: data.DispatchedBy,
					CreatedAt: data.DispatchedAt,
					Version:   e.Version,
				})
				from = to
			}
		}
	}
	return entries, nil
}
