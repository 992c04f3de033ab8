// Package jobs is the background job queue: JSON envelopes carried in
// watermill messages, one topic per job type, at-least-once delivery with
// retries, a poison topic and idempotency keys.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/rs/zerolog"
)

// Type names a job and, with the topic prefix, its topic.
type Type string

const (
	TypeNotificationSend   Type = "notification.send"
	TypeInventoryReconcile Type = "inventory.reconcile"
	TypeLowStockSweep      Type = "inventory.low_stock_sweep"
	TypeShipmentSync       Type = "shipment.sync"
	TypeShipmentSyncAll    Type = "shipment.sync_all"
)

// Types lists every job type the worker serves.
func Types() []Type {
	return []Type{
		TypeNotificationSend,
		TypeInventoryReconcile,
		TypeLowStockSweep,
		TypeShipmentSync,
		TypeShipmentSyncAll,
	}
}

// Metadata keys set on every job message.
const (
	metadataType = "job_type"
	metadataKey  = "idempotency_key"
)

var ErrUnknownType = errors.New("unknown job type")

// Envelope is the message payload.
type Envelope struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	// Attempt counts handler runs for this delivery, starting at 1.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ReconcilePayload targets one product, or every product when empty.
type ReconcilePayload struct {
	ProductID string `json:"product_id,omitempty"`
}

type ShipmentSyncPayload struct {
	OrderID string `json:"order_id"`
}

// Topic returns the topic a job type is published on.
func Topic(prefix string, t Type) string {
	return prefix + string(t)
}

// Client publishes jobs.
type Client struct {
	publisher message.Publisher
	prefix    string
	now       func() time.Time
	log       zerolog.Logger
}

func NewClient(publisher message.Publisher, topicPrefix string) *Client {
	return &Client{
		publisher: publisher,
		prefix:    topicPrefix,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logging.Component("jobs"),
	}
}

// Enqueue publishes one job. An empty key disables deduplication.
func (c *Client) Enqueue(ctx context.Context, t Type, key string, payload any) (*Envelope, error) {
	env := &Envelope{
		ID:             watermill.NewUUID(),
		Type:           t,
		IdempotencyKey: key,
		EnqueuedAt:     c.now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", t, err)
	}
	msg := message.NewMessage(env.ID, body)
	msg.Metadata.Set(metadataType, string(t))
	if key != "" {
		msg.Metadata.Set(metadataKey, key)
	}
	msg.SetContext(ctx)

	if err := c.publisher.Publish(Topic(c.prefix, t), msg); err != nil {
		metrics.JobsEnqueued.WithLabelValues(string(t), "error").Inc()
		return nil, fmt.Errorf("publish %s job: %w", t, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(t), "ok").Inc()
	c.log.Debug().Str("job_id", env.ID).Str("type", string(t)).Str("key", key).Msg("job enqueued")
	return env, nil
}

// Notify queues a notification.send job.
func (c *Client) Notify(ctx context.Context, opts notification.Options) error {
	_, err := c.Enqueue(ctx, TypeNotificationSend, opts.Key, opts)
	return err
}

func ParseType(raw string) (Type, error) {
	for _, t := range Types() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
}
