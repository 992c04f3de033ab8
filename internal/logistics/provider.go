// Package logistics talks to the carrier that issues waybills and reports
// tracking status.
package logistics

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable wraps every failed or refused carrier call.
var ErrProviderUnavailable = errors.New("logistics provider unavailable")

// ErrUnknownWaybill is returned by TrackShipment for a waybill the carrier
// never issued.
var ErrUnknownWaybill = errors.New("unknown waybill")

// External tracking statuses reported by carriers.
const (
	StatusCreated        = "CREATED"
	StatusPickedUp       = "PICKED_UP"
	StatusInTransit      = "IN_TRANSIT"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
	StatusDeliveryFailed = "DELIVERY_FAILED"
)

type Provider interface {
	Name() string
	CreateShipment(ctx context.Context, req ShipmentRequest) (*Waybill, error)
	TrackShipment(ctx context.Context, waybillNumber string) (*Tracking, error)
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

type Item struct {
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	WeightGrams int             `json:"weight_grams"`
	Value       decimal.Decimal `json:"value"`
}

type ShipmentRequest struct {
	OrderNumber      string          `json:"order_number"`
	Sender           Address         `json:"sender"`
	Receiver         Address         `json:"receiver"`
	Items            []Item          `json:"items"`
	DeliveryType     string          `json:"delivery_type"`
	TotalWeightGrams int             `json:"total_weight_grams"`
	DeclaredValue    decimal.Decimal `json:"declared_value"`
	Currency         string          `json:"currency"`
}

type Waybill struct {
	WaybillNumber         string          `json:"waybill_number"`
	TrackingURL           string          `json:"tracking_url"`
	Carrier               string          `json:"carrier"`
	EstimatedDeliveryDate *time.Time      `json:"estimated_delivery_date,omitempty"`
	ShippingCost          decimal.Decimal `json:"shipping_cost"`
}

type TrackingEvent struct {
	Status      string    `json:"status"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Tracking struct {
	WaybillNumber string          `json:"waybill_number"`
	Status        string          `json:"status"`
	Location      string          `json:"location,omitempty"`
	History       []TrackingEvent `json:"history"`
}
