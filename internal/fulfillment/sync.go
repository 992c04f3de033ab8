package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/logistics"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"golang.org/x/time/rate"
)

type SyncResult struct {
	OrderID  string       `json:"order_id"`
	Previous order.Status `json:"previous"`
	Current  order.Status `json:"current"`
	Changed  bool         `json:"changed"`
}

type SyncFailure struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

type SyncSummary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Changed    int           `json:"changed"`
	Failures   []SyncFailure `json:"failures,omitempty"`
}

var deliveryPath = []order.Status{
	order.StatusDispatched,
	order.StatusInTransit,
	order.StatusOutForDelivery,
	order.StatusDelivered,
}

// activeStatuses are the orders a carrier can still move.
var activeStatuses = []string{
	string(order.StatusDispatched),
	string(order.StatusInTransit),
	string(order.StatusOutForDelivery),
}

// MapCarrierStatus converts a carrier status to an order status. The empty
// status means the carrier status carries no order transition.
func MapCarrierStatus(external string) order.Status {
	normalized := strings.ToUpper(strings.TrimSpace(external))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	switch normalized {
	case logistics.StatusDelivered:
		return order.StatusDelivered
	case logistics.StatusOutForDelivery:
		return order.StatusOutForDelivery
	case logistics.StatusInTransit:
		return order.StatusInTransit
	case logistics.StatusCreated, logistics.StatusPickedUp:
		return order.StatusDispatched
	case logistics.StatusDeliveryFailed, "FAILED":
		return order.StatusFailed
	default:
		return ""
	}
}

// syncSteps returns the transitions that move current to target. It never
// moves an order backwards along the delivery path.
func syncSteps(current, target order.Status) []order.Status {
	if target == "" || target == current {
		return nil
	}

	if target == order.StatusFailed {
		switch current {
		case order.StatusDispatched:
			return []order.Status{order.StatusInTransit, order.StatusFailed}
		case order.StatusInTransit, order.StatusOutForDelivery:
			return []order.Status{order.StatusFailed}
		}
		return nil
	}

	if current == order.StatusFailed {
		switch target {
		case order.StatusOutForDelivery:
			return []order.Status{order.StatusOutForDelivery}
		case order.StatusDelivered:
			return []order.Status{order.StatusOutForDelivery, order.StatusDelivered}
		}
		return nil
	}

	from := slices.Index(deliveryPath, current)
	to := slices.Index(deliveryPath, target)
	if from < 0 || to <= from {
		return nil
	}
	return slices.Clone(deliveryPath[from+1 : to+1])
}

// SyncShipmentStatus pulls tracking for one order and moves it forward to
// match the carrier.
func (o *Orchestrator) SyncShipmentStatus(ctx context.Context, orderID string) (*SyncResult, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.TrackingNumber == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTrackingNumber, orderID)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	tracking, err := o.logistics.TrackShipment(callCtx, ord.TrackingNumber)
	cancel()
	if err != nil {
		metrics.ShipmentSyncs.WithLabelValues("failed").Inc()
		if !errors.Is(err, logistics.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", logistics.ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("track %s: %w", ord.TrackingNumber, err)
	}

	result := &SyncResult{OrderID: ord.ID, Previous: ord.Status, Current: ord.Status}
	note := "carrier reported " + tracking.Status
	if tracking.Location != "" {
		note += " at " + tracking.Location
	}

	for _, step := range syncSteps(ord.Status, MapCarrierStatus(tracking.Status)) {
		updated, err := o.UpdateStatus(ctx, ord.ID, step, SyncActor, note)
		if err != nil {
			metrics.ShipmentSyncs.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("sync %s to %s: %w", ord.ID, step, err)
		}
		result.Current = updated.Status
	}
	result.Changed = result.Current != result.Previous

	if result.Changed {
		metrics.ShipmentSyncs.WithLabelValues("changed").Inc()
		o.log.Info().Str("order_id", ord.ID).Str("from", string(result.Previous)).Str("to", string(result.Current)).Msg("shipment status synced")
	} else {
		metrics.ShipmentSyncs.WithLabelValues("unchanged").Inc()
	}
	return result, nil
}

// SyncAllActiveShipments syncs every dispatched order that has a tracking
// number. One order failing does not stop the others.
func (o *Orchestrator) SyncAllActiveShipments(ctx context.Context) (*SyncSummary, error) {
	active, err := o.finder.ListOrders(ctx, readmodel.OrderFilter{
		Statuses:     activeStatuses,
		WithTracking: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list active shipments: %w", err)
	}

	var limiter *rate.Limiter
	if o.cfg.SyncRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.SyncRatePerSecond), o.cfg.SyncConcurrency)
	}

	summary := &SyncSummary{Total: len(active)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.cfg.SyncConcurrency)
	)

	for _, ord := range active {
		wg.Add(1)
		sem <- struct{}{}
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-sem }()

			var (
				res *SyncResult
				err error
			)
			if limiter != nil {
				err = limiter.Wait(ctx)
			}
			if err == nil {
				res, err = o.SyncShipmentStatus(ctx, orderID)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, SyncFailure{OrderID: orderID, Error: err.Error()})
				o.log.Warn().Err(err).Str("order_id", orderID).Msg("shipment sync failed")
				return
			}
			summary.Successful++
			if res.Changed {
				summary.Changed++
			}
		}(ord.ID)
	}
	wg.Wait()

	slices.SortFunc(summary.Failures, func(a, b SyncFailure) int { return strings.Compare(a.OrderID, b.OrderID) })
	o.log.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("changed", summary.Changed).
		Msg("shipment sync finished")
	return summary, nil
}
