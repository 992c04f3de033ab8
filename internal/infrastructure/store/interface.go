package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-fulfillment/internal/readmodel"
)

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion = -1

var (
	// ErrVersionConflict is returned when expectedVersion does not match the
	// aggregate's current version.
	ErrVersionConflict = errors.New("event version conflict")
	// ErrNotFound is returned by read stores for a missing row.
	ErrNotFound = errors.New("not found")
	// ErrNotificationFinalized is returned when completing a notification
	// that already left PENDING.
	ErrNotificationFinalized = errors.New("notification already finalized")
)

// EventFilter narrows ListEvents. Zero values mean no bound.
type EventFilter struct {
	Limit      int
	Offset     int
	From       time.Time
	To         time.Time
	Descending bool
}

// Publisher receives every event after it has been persisted.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, key string, event any) error

func (f PublisherFunc) Publish(ctx context.Context, key string, event any) error {
	return f(ctx, key, event)
}

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Append stores an event at expectedVersion+1. Pass AnyVersion to skip the check.
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	// GetEventsFromVersion returns events with version > fromVersion.
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetEventsByType(ctx context.Context, aggregateType string) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
	ListEvents(ctx context.Context, aggregateID string, filter EventFilter) ([]Event, error)
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}

// OrderReadStore holds the order listing read model.
type OrderReadStore interface {
	SaveOrder(ctx context.Context, order *readmodel.OrderReadModel) error
	GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, error)
	ListOrders(ctx context.Context, filter readmodel.OrderFilter) ([]readmodel.OrderReadModel, error)
}

// NotificationStore is the notification delivery log.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *readmodel.Notification) error
	// CompleteNotification moves a PENDING notification to a terminal status.
	CompleteNotification(ctx context.Context, id string, c readmodel.NotificationCompletion) error
	GetNotification(ctx context.Context, id string) (*readmodel.Notification, error)
	ListNotifications(ctx context.Context, filter readmodel.NotificationFilter) ([]readmodel.Notification, error)
}

// ActivityStore records background job outcomes.
type ActivityStore interface {
	RecordActivity(ctx context.Context, a *readmodel.Activity) error
	ListActivities(ctx context.Context, filter readmodel.ActivityFilter) ([]readmodel.Activity, error)
}

// ReadStoreInterface defines the interface for read model storage
type ReadStoreInterface interface {
	OrderReadStore
	NotificationStore
	ActivityStore
}
