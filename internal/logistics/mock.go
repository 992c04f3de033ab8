package logistics

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockProvider issues deterministic waybills without calling a carrier. It is
// selected whenever no carrier base URL is configured.
type MockProvider struct {
	mu       sync.Mutex
	carrier  string
	now      func() time.Time
	shipped  map[string]*Tracking
	failNext map[string]error
}

func NewMockProvider(carrier string) *MockProvider {
	if carrier == "" {
		carrier = "MOCK"
	}
	return &MockProvider{
		carrier:  carrier,
		now:      func() time.Time { return time.Now().UTC() },
		shipped:  make(map[string]*Tracking),
		failNext: make(map[string]error),
	}
}

func (m *MockProvider) Name() string { return "mock" }

// WaybillFor derives the waybill number the mock assigns to an order.
func WaybillFor(orderNumber string) string {
	sum := sha1.Sum([]byte(orderNumber))
	return "MOCK" + strings.ToUpper(hex.EncodeToString(sum[:])[:10])
}

func (m *MockProvider) CreateShipment(ctx context.Context, req ShipmentRequest) (*Waybill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failNext[req.OrderNumber]; ok {
		delete(m.failNext, req.OrderNumber)
		return nil, err
	}

	number := WaybillFor(req.OrderNumber)
	now := m.now()
	eta := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 3)

	// 5.00 base plus 1.00 per started kilogram.
	kilos := (req.TotalWeightGrams + 999) / 1000
	cost := decimal.NewFromInt(5).Add(decimal.NewFromInt(int64(kilos)))

	m.shipped[number] = &Tracking{
		WaybillNumber: number,
		Status:        StatusCreated,
		History:       []TrackingEvent{{Status: StatusCreated, Timestamp: now}},
	}

	return &Waybill{
		WaybillNumber:         number,
		TrackingURL:           "https://tracking.example.com/" + number,
		Carrier:               m.carrier,
		EstimatedDeliveryDate: &eta,
		ShippingCost:          cost,
	}, nil
}

func (m *MockProvider) TrackShipment(ctx context.Context, waybillNumber string) (*Tracking, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failNext[waybillNumber]; ok {
		delete(m.failNext, waybillNumber)
		return nil, err
	}
	t, ok := m.shipped[waybillNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWaybill, waybillNumber)
	}
	out := *t
	out.History = append([]TrackingEvent(nil), t.History...)
	return &out, nil
}

// SetStatus moves a waybill to status, registering it if needed.
func (m *MockProvider) SetStatus(waybillNumber, status, location string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.shipped[waybillNumber]
	if !ok {
		t = &Tracking{WaybillNumber: waybillNumber}
		m.shipped[waybillNumber] = t
	}
	t.Status = status
	t.Location = location
	t.History = append(t.History, TrackingEvent{Status: status, Location: location, Timestamp: m.now()})
}

// FailNext makes the next call for key (an order number or waybill) return err.
func (m *MockProvider) FailNext(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[key] = err
}
