package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDispatched    = "OrderDispatched"
	EventOrderRestocked     = "OrderRestocked"
)

// OrderItem is a line with the price captured when the order was placed.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
}

// LineTotal is Price × Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type OrderPlaced struct {
	OrderID         string          `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	ShippingAddress Address         `json:"shipping_address"`
	Currency        string          `json:"currency"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Total           decimal.Decimal `json:"total"`
	PlacedBy        string          `json:"placed_by"`
	PlacedAt        time.Time       `json:"placed_at"`
}

// OrderStatusChanged is one accepted transition. It is also the history entry.
type OrderStatusChanged struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// OrderDispatched attaches tracking and moves the order to DISPATCHED. Path
// lists every status entered along the way, starting after the prior status.
type OrderDispatched struct {
	OrderID           string     `json:"order_id"`
	From              Status     `json:"from"`
	Path              []Status   `json:"path"`
	TrackingNumber    string     `json:"tracking_number"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Note              string     `json:"note,omitempty"`
	DispatchedBy      string     `json:"dispatched_by"`
	DispatchedAt      time.Time  `json:"dispatched_at"`
}

// OrderRestocked records that the order's items were returned to stock.
type OrderRestocked struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	RestockedBy string    `json:"restocked_by"`
	RestockedAt time.Time `json:"restocked_at"`
}
