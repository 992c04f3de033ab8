package notification

import (
	"strings"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *order.Order {
	eta := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return &order.Order{
		OrderNumber: "ORD-20240301-ABCDEF12",
		Currency:    "USD",
		Items: []order.OrderItem{
			{ProductID: "p-1", Name: "Mug", Quantity: 2, Price: decimal.RequireFromString("7.50")},
			{ProductID: "p-2", Quantity: 1, Price: decimal.RequireFromString("3")},
		},
		Subtotal:          decimal.RequireFromString("18"),
		ShippingCost:      decimal.RequireFromString("5"),
		Total:             decimal.RequireFromString("23"),
		Status:            order.StatusDispatched,
		TrackingNumber:    "MOCK123",
		Carrier:           "MOCK",
		EstimatedDelivery: &eta,
	}
}

func TestOrderConfirmation(t *testing.T) {
	c := OrderConfirmation(testOrder())

	assert.Equal(t, "Order confirmation ORD-20240301-ABCDEF12", c.Subject)
	assert.Contains(t, c.Body, "2 x Mug  15.00 USD")
	assert.Contains(t, c.Body, "1 x p-2  3.00 USD")
	assert.Contains(t, c.Body, "Total:    23.00 USD")
}

func TestStatusChange(t *testing.T) {
	c := StatusChange(testOrder(), order.StatusReadyForDispatch, "left the warehouse")

	assert.Equal(t, "Order ORD-20240301-ABCDEF12 is now dispatched", c.Subject)
	assert.Contains(t, c.Body, "from ready for dispatch to dispatched")
	assert.Contains(t, c.Body, "left the warehouse")
	assert.Equal(t, c.Subject, SMSText(c))
}

func TestDispatched(t *testing.T) {
	c := Dispatched(testOrder())

	assert.Contains(t, c.Body, "Tracking: MOCK123")
	assert.Contains(t, c.Body, "Carrier:  MOCK")
	assert.Contains(t, c.Body, "Expected: Mon, 04 Mar 2024")
	assert.NotContains(t, c.Body, "Track at:")
}

func TestLowStockDigest_LowestFirst(t *testing.T) {
	items := []LowStockItem{
		{ProductID: "p-1", Name: "Mug", Stock: 8, Threshold: 10},
		{ProductID: "p-2", Stock: 0, Threshold: 10},
		{ProductID: "p-3", Name: "Lamp", Stock: 3, Threshold: 5},
	}

	c := LowStockDigest(items, "2024-03-01")

	assert.Equal(t, "Low stock digest 2024-03-01: 3 products", c.Subject)
	lines := strings.Split(strings.TrimSpace(c.Body), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[2], "p-2")
	assert.Contains(t, lines[3], "Lamp")
	assert.Contains(t, lines[4], "Mug")
	assert.Equal(t, "p-1", items[0].ProductID, "input must not be reordered")
}

func TestLowStock(t *testing.T) {
	c := LowStock(LowStockItem{ProductID: "p-1", Name: "Mug", Stock: 2, Threshold: 10})

	assert.Equal(t, "Low stock: Mug", c.Subject)
	assert.Contains(t, c.Body, "Mug (p-1) has 2 units left; threshold is 10.")
}

func TestDispatcherFromConfig_PreferenceAndCrossChannel(t *testing.T) {
	cfg := config.NotificationConfig{
		PreferredEmail: "smtp",
		PreferredSMS:   "auto",
		SendTimeout:    time.Second,
		SMTP:           config.SMTPConfig{Host: "mail", Port: "25", From: "shop@example.com"},
		EmailAPI:       config.HTTPProvider{BaseURL: "http://email", APIKey: "k"},
		WhatsApp:       config.HTTPProvider{BaseURL: "http://wa", APIKey: "k"},
	}

	d := DispatcherFromConfig(cfg)

	email := d.Providers(ChannelEmail)
	require.Len(t, email, 2)
	assert.Equal(t, "smtp", email[0].Name())
	assert.Equal(t, "email-api", email[1].Name())

	// SMS gateway is unconfigured, so WhatsApp serves SMS.
	sms := d.Providers(ChannelSMS)
	require.Len(t, sms, 1)
	assert.Equal(t, "whatsapp", sms[0].Name())
	assert.Equal(t, ChannelSMS, sms[0].Channel())
}
