package readmodel

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderItemReadModel represents an item in an order
type OrderItemReadModel struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
}

// OrderReadModel is the read model for orders
type OrderReadModel struct {
	ID                string               `json:"id"`
	OrderNumber       string               `json:"order_number"`
	CustomerEmail     string               `json:"customer_email"`
	CustomerPhone     string               `json:"customer_phone,omitempty"`
	Currency          string               `json:"currency"`
	Items             []OrderItemReadModel `json:"items"`
	Subtotal          decimal.Decimal      `json:"subtotal"`
	ShippingCost      decimal.Decimal      `json:"shipping_cost"`
	Total             decimal.Decimal      `json:"total"`
	Status            string               `json:"status"`
	PaymentStatus     string               `json:"payment_status"`
	TrackingNumber    string               `json:"tracking_number,omitempty"`
	TrackingURL       string               `json:"tracking_url,omitempty"`
	Carrier           string               `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time           `json:"estimated_delivery,omitempty"`
	Version           int                  `json:"version"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// OrderFilter narrows ListOrders. Empty Statuses matches every status.
type OrderFilter struct {
	Statuses     []string
	WithTracking bool
	Limit        int
	Offset       int
	From         time.Time
	To           time.Time
}

// Notification delivery statuses.
const (
	NotificationPending = "PENDING"
	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
)

// Notification is one persisted send attempt.
type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Provider  string            `json:"provider,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
}

// NotificationCompletion carries the terminal state of a notification.
type NotificationCompletion struct {
	Status    string
	Provider  string
	MessageID string
	Error     string
	At        time.Time
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	Status    string
	Type      string
	Recipient string
	Limit     int
	Offset    int
	From      time.Time
	To        time.Time
}

// Activity is an audit record written by background jobs.
type Activity struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubjectID string          `json:"subject_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	Type      string
	SubjectID string
	Limit     int
	Offset    int
	From      time.Time
	To        time.Time
}
