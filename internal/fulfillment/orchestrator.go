// Package fulfillment coordinates orders, the stock ledger, the logistics
// provider and customer notifications.
package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/logistics"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/rs/zerolog"
)

var (
	ErrPriceUnavailable = errors.New("product has no price in the order currency")
	ErrNoTrackingNumber = errors.New("order has no tracking number")
)

// SyncActor is recorded on transitions driven by carrier tracking.
const SyncActor = "logistics-sync"

// NotificationSender queues or sends a notification. Errors are logged by
// the orchestrator and never fail the operation that triggered them.
type NotificationSender interface {
	Notify(ctx context.Context, opts notification.Options) error
}

// Config holds the logistics settings the orchestrator needs.
type Config struct {
	Sender                 logistics.Address
	DeliveryType           string
	DefaultItemWeightGrams int
	Timeout                time.Duration
	SyncConcurrency        int
	SyncRatePerSecond      float64
}

func ConfigFrom(cfg config.LogisticsConfig) Config {
	return Config{
		Sender: logistics.Address{
			Name:       cfg.Sender.Name,
			Phone:      cfg.Sender.Phone,
			Line1:      cfg.Sender.Line1,
			City:       cfg.Sender.City,
			Region:     cfg.Sender.State,
			PostalCode: cfg.Sender.PostalCode,
			Country:    cfg.Sender.Country,
		},
		DeliveryType:           cfg.DeliveryType,
		DefaultItemWeightGrams: cfg.DefaultItemWeightGrams,
		Timeout:                cfg.Timeout,
		SyncConcurrency:        cfg.SyncConcurrency,
		SyncRatePerSecond:      cfg.SyncRatePerSecond,
	}
}

type Orchestrator struct {
	orders    *order.Service
	ledger    *inventory.Service
	catalog   *product.Service
	logistics logistics.Provider
	finder    store.OrderReadStore
	notifier  NotificationSender
	cfg       Config
	log       zerolog.Logger
}

func New(
	orders *order.Service,
	ledger *inventory.Service,
	catalog *product.Service,
	provider logistics.Provider,
	finder store.OrderReadStore,
	notifier NotificationSender,
	cfg Config,
) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SyncConcurrency < 1 {
		cfg.SyncConcurrency = 1
	}
	if cfg.DeliveryType == "" {
		cfg.DeliveryType = "STANDARD"
	}
	return &Orchestrator{
		orders:    orders,
		ledger:    ledger,
		catalog:   catalog,
		logistics: provider,
		finder:    finder,
		notifier:  notifier,
		cfg:       cfg,
		log:       logging.Component("fulfillment"),
	}
}

func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return o.orders.Get(ctx, orderID)
}

// notifyCustomer sends content by email and, when the order has a phone
// number, by SMS. keyPrefix plus the order id and channel make the job key.
func (o *Orchestrator) notifyCustomer(ctx context.Context, ord *order.Order, keyPrefix string, content notification.Content) {
	meta := map[string]string{"order_id": ord.ID, "order_number": ord.OrderNumber, "kind": keyPrefix}

	o.notify(ctx, notification.Options{
		Type:      notification.ChannelEmail,
		Recipient: ord.CustomerEmail,
		Subject:   content.Subject,
		Message:   content.Body,
		Metadata:  meta,
		Key:       keyPrefix + ":" + ord.ID + ":email",
	})
	if ord.CustomerPhone != "" {
		o.notify(ctx, notification.Options{
			Type:      notification.ChannelSMS,
			Recipient: ord.CustomerPhone,
			Message:   notification.SMSText(content),
			Metadata:  meta,
			Key:       keyPrefix + ":" + ord.ID + ":sms",
		})
	}
}

func (o *Orchestrator) notify(ctx context.Context, opts notification.Options) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, opts); err != nil {
		o.log.Warn().Err(err).Str("key", opts.Key).Str("type", string(opts.Type)).Msg("failed to enqueue notification")
	}
}
