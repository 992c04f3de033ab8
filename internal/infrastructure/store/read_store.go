package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/example/ec-fulfillment/internal/readmodel"
)

// ReadStore is an in-memory read model store
type ReadStore struct {
	mu            sync.RWMutex
	orders        map[string]readmodel.OrderReadModel
	notifications map[string]readmodel.Notification
	activities    []readmodel.Activity
}

func NewReadStore() *ReadStore {
	return &ReadStore{
		orders:        make(map[string]readmodel.OrderReadModel),
		notifications: make(map[string]readmodel.Notification),
	}
}

// SaveOrder upserts an order. Older versions never overwrite newer ones.
func (rs *ReadStore) SaveOrder(_ context.Context, order *readmodel.OrderReadModel) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if existing, ok := rs.orders[order.ID]; ok && existing.Version > order.Version {
		return nil
	}
	o := *order
	o.Items = slices.Clone(order.Items)
	rs.orders[order.ID] = o
	return nil
}

func (rs *ReadStore) GetOrder(_ context.Context, id string) (*readmodel.OrderReadModel, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	o, ok := rs.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return &o, nil
}

// ListOrders returns matching orders, newest first.
func (rs *ReadStore) ListOrders(_ context.Context, f readmodel.OrderFilter) ([]readmodel.OrderReadModel, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []readmodel.OrderReadModel
	for _, o := range rs.orders {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		if f.WithTracking && o.TrackingNumber == "" {
			continue
		}
		if !InRange(o.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return Paginate(out, f.Limit, f.Offset), nil
}

func (rs *ReadStore) CreateNotification(_ context.Context, n *readmodel.Notification) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	rs.notifications[n.ID] = *n
	return nil
}

func (rs *ReadStore) CompleteNotification(_ context.Context, id string, c readmodel.NotificationCompletion) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	n, ok := rs.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if n.Status != readmodel.NotificationPending {
		return fmt.Errorf("notification %s is %s: %w", id, n.Status, ErrNotificationFinalized)
	}

	n.Status = c.Status
	n.Provider = c.Provider
	n.MessageID = c.MessageID
	n.Error = c.Error
	if c.Status == readmodel.NotificationSent {
		at := c.At
		n.SentAt = &at
	}
	rs.notifications[id] = n
	return nil
}

func (rs *ReadStore) GetNotification(_ context.Context, id string) (*readmodel.Notification, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	n, ok := rs.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return &n, nil
}

// ListNotifications returns matching notifications, newest first.
func (rs *ReadStore) ListNotifications(_ context.Context, f readmodel.NotificationFilter) ([]readmodel.Notification, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []readmodel.Notification
	for _, n := range rs.notifications {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.Recipient != "" && n.Recipient != f.Recipient {
			continue
		}
		if !InRange(n.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return Paginate(out, f.Limit, f.Offset), nil
}

func (rs *ReadStore) RecordActivity(_ context.Context, a *readmodel.Activity) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.activities = append(rs.activities, *a)
	return nil
}

// ListActivities returns matching activities, newest first.
func (rs *ReadStore) ListActivities(_ context.Context, f readmodel.ActivityFilter) ([]readmodel.Activity, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []readmodel.Activity
	for i := len(rs.activities) - 1; i >= 0; i-- {
		a := rs.activities[i]
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.SubjectID != "" && a.SubjectID != f.SubjectID {
			continue
		}
		if !InRange(a.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return Paginate(out, f.Limit, f.Offset), nil
}
