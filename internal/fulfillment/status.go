package fulfillment

import (
	"context"
	"errors"
	"strconv"

	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/notification"
)

// UpdateStatus applies one validated transition. Entering CANCELLED or
// REFUNDED returns the order's stock the first time either happens.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID string, to order.Status, actor, note string) (*order.Order, error) {
	before, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updated, err := o.orders.UpdateStatus(ctx, orderID, to, actor, note)
	if err != nil {
		return nil, err
	}

	if to == order.StatusCancelled || to == order.StatusRefunded {
		o.restock(ctx, updated, actor)
	}

	key := "status-change:" + string(updated.Status) + ":" + strconv.Itoa(updated.Version)
	o.notifyCustomer(ctx, updated, key, notification.StatusChange(updated, before.Status, note))
	return updated, nil
}

// restock claims the restock on the order before touching the ledger, so a
// concurrent or repeated cancellation cannot add the stock back twice.
func (o *Orchestrator) restock(ctx context.Context, ord *order.Order, actor string) {
	reason := inventory.ReasonOrderCancelled
	if ord.Status == order.StatusRefunded {
		reason = inventory.ReasonOrderRefunded
	}

	if _, err := o.orders.MarkRestocked(ctx, ord.ID, reason, actor); err != nil {
		if !errors.Is(err, order.ErrAlreadyRestocked) {
			o.log.Error().Err(err).Str("order_id", ord.ID).Msg("restock claim failed")
		}
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, item := range ord.Items {
		if _, err := o.ledger.RecordAdjustment(ctx, item.ProductID, item.Quantity, reason, actor); err != nil {
			o.log.Error().Err(err).
				Str("order_id", ord.ID).
				Str("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("restock adjustment failed, ledger needs correction")
		}
	}
	o.log.Info().Str("order_id", ord.ID).Str("reason", reason).Int("items", len(ord.Items)).Msg("order restocked")
}
