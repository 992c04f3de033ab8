package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/logistics"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/example/ec-fulfillment/internal/notification"
)

// CreateShipmentForOrder books a waybill with the carrier and dispatches the
// order. The order is checked before the carrier is called and is left
// unchanged when the carrier fails.
func (o *Orchestrator) CreateShipmentForOrder(ctx context.Context, orderID, actor string) (*order.Order, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := ord.DispatchPath(); err != nil {
		metrics.ShipmentsCreated.WithLabelValues("rejected").Inc()
		return nil, err
	}

	req, err := o.shipmentRequest(ctx, ord)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	waybill, err := o.logistics.CreateShipment(callCtx, req)
	cancel()
	if err != nil {
		metrics.ShipmentsCreated.WithLabelValues("failed").Inc()
		o.log.Error().Err(err).Str("order_id", ord.ID).Str("provider", o.logistics.Name()).Msg("create shipment failed")
		if !errors.Is(err, logistics.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", logistics.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	dispatched, err := o.orders.Dispatch(ctx, ord.ID, order.ShipmentDetails{
		TrackingNumber:    waybill.WaybillNumber,
		TrackingURL:       waybill.TrackingURL,
		Carrier:           waybill.Carrier,
		EstimatedDelivery: waybill.EstimatedDeliveryDate,
	}, actor)
	if err != nil {
		metrics.ShipmentsCreated.WithLabelValues("failed").Inc()
		o.log.Error().Err(err).Str("order_id", ord.ID).Str("waybill", waybill.WaybillNumber).Msg("waybill issued but dispatch failed")
		return nil, err
	}
	metrics.ShipmentsCreated.WithLabelValues("created").Inc()

	o.notifyCustomer(ctx, dispatched, "order-dispatched", notification.Dispatched(dispatched))
	return dispatched, nil
}

func (o *Orchestrator) shipmentRequest(ctx context.Context, ord *order.Order) (logistics.ShipmentRequest, error) {
	items := make([]logistics.Item, 0, len(ord.Items))
	total := 0
	for _, item := range ord.Items {
		weight := o.cfg.DefaultItemWeightGrams
		p, err := o.catalog.Get(ctx, item.ProductID)
		switch {
		case errors.Is(err, product.ErrProductNotFound):
		case err != nil:
			return logistics.ShipmentRequest{}, err
		case p.WeightGrams > 0:
			weight = p.WeightGrams
		}
		total += weight * item.Quantity
		items = append(items, logistics.Item{
			Name:        item.Name,
			Quantity:    item.Quantity,
			WeightGrams: weight,
			Value:       item.LineTotal(),
		})
	}

	addr := ord.ShippingAddress
	return logistics.ShipmentRequest{
		OrderNumber: ord.OrderNumber,
		Sender:      o.cfg.Sender,
		Receiver: logistics.Address{
			Name:       addr.Name,
			Phone:      firstNonEmpty(addr.Phone, ord.CustomerPhone),
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			Region:     addr.Region,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		Items:            items,
		DeliveryType:     o.cfg.DeliveryType,
		TotalWeightGrams: total,
		DeclaredValue:    ord.Subtotal,
		Currency:         ord.Currency,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
