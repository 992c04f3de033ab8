package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/shopspring/decimal"
)

type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	ShippingAddress order.Address   `json:"shipping_address"`
	Currency        string          `json:"currency"`
	Items           []LineRequest   `json:"items"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Actor           string          `json:"-"`
}

type deduction struct {
	productID string
	quantity  int
}

// PlaceOrder prices the items from the catalog, takes the stock out of the
// ledger and places the order. Stock already taken is put back if a later
// step fails.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*order.Order, error) {
	if strings.TrimSpace(req.CustomerEmail) == "" {
		return nil, order.ErrCustomerEmailRequired
	}
	if len(req.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}
	currency := product.NormalizeCurrency(req.Currency)

	items := make([]order.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", order.ErrInvalidQuantity, line.ProductID)
		}
		p, err := o.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		price, ok := p.Price(currency)
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrPriceUnavailable, p.ID, currency)
		}
		items = append(items, order.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  line.Quantity,
			Price:     price,
			Currency:  currency,
		})
	}

	var taken []deduction
	for _, item := range items {
		if _, err := o.ledger.RecordAdjustment(ctx, item.ProductID, -item.Quantity, inventory.ReasonOrderPlaced, req.Actor); err != nil {
			o.putBack(ctx, taken, req.Actor)
			return nil, err
		}
		taken = append(taken, deduction{productID: item.ProductID, quantity: item.Quantity})
	}

	placed, err := o.orders.Place(ctx, order.PlaceParams{
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Currency:        currency,
		Items:           items,
		ShippingCost:    req.ShippingCost,
		Actor:           req.Actor,
	})
	if err != nil {
		o.putBack(ctx, taken, req.Actor)
		return nil, err
	}

	o.notifyCustomer(ctx, placed, "order-confirmation", notification.OrderConfirmation(placed))
	return placed, nil
}

// putBack reverses deductions. Failures are logged for manual correction.
func (o *Orchestrator) putBack(ctx context.Context, taken []deduction, actor string) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range taken {
		if _, err := o.ledger.RecordAdjustment(ctx, d.productID, d.quantity, inventory.ReasonOrderRollback, actor); err != nil {
			o.log.Error().Err(err).Str("product_id", d.productID).Int("quantity", d.quantity).Msg("stock rollback failed, ledger needs correction")
		}
	}
}

// IsValidation reports whether err is a caller error that must not be retried.
func IsValidation(err error) bool {
	for _, target := range []error{
		order.ErrCustomerEmailRequired, order.ErrEmptyOrder, order.ErrInvalidQuantity,
		order.ErrInvalidPrice, order.ErrCurrencyMismatch, order.ErrTrackingNumberRequired,
		order.ErrUnknownStatus, ErrPriceUnavailable, ErrNoTrackingNumber,
		product.ErrInvalidName, product.ErrInvalidPrice, product.ErrInvalidCurrency, product.ErrInvalidWeight,
		inventory.ErrInvalidQuantity, inventory.ErrReasonRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
