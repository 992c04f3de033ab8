package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing
type MockEventStore struct {
	mu        sync.RWMutex
	events    map[string][]store.Event
	snapshots map[string]store.Snapshot

	// For tracking calls in tests
	AppendCalls       []AppendCall
	SaveSnapshotCalls []store.Snapshot
	AppendErr         error
	GetEventsErr      error
	AppendCallback    func(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error)

	// Now stamps appended events; defaults to time.Now.
	Now func() time.Time
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	ExpectedVersion int
	Data            any
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:    make(map[string][]store.Event),
		snapshots: make(map[string]store.Snapshot),
	}
}

// Append records the call, then behaves like the in-memory store
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		ExpectedVersion: expectedVersion,
		Data:            data,
	})
	callback := m.AppendCallback
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	current := len(m.events[aggregateID])
	if expectedVersion != store.AnyVersion && expectedVersion != current {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", store.ErrVersionConflict, aggregateID, current, expectedVersion)
	}

	event, err := m.newEvent(aggregateID, aggregateType, eventType, current+1, data)
	if err != nil {
		return nil, err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return &event, nil
}

// Appended returns how many events were successfully stored for aggregateID.
func (m *MockEventStore) Appended(aggregateID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events[aggregateID])
}

func (m *MockEventStore) GetEvents(_ context.Context, aggregateID string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	return append([]store.Event(nil), m.events[aggregateID]...), nil
}

func (m *MockEventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}

	var out []store.Event
	for _, e := range m.events[aggregateID] {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) GetEventsByType(_ context.Context, aggregateType string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}

	var out []store.Event
	for _, events := range m.events {
		for _, e := range events {
			if e.AggregateType == aggregateType {
				out = append(out, e)
			}
		}
	}
	return store.ApplyFilter(out, store.EventFilter{}), nil
}

func (m *MockEventStore) GetAllEvents(_ context.Context) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []store.Event
	for _, events := range m.events {
		all = append(all, events...)
	}
	return store.ApplyFilter(all, store.EventFilter{}), nil
}

func (m *MockEventStore) ListEvents(_ context.Context, aggregateID string, filter store.EventFilter) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	return store.ApplyFilter(m.events[aggregateID], filter), nil
}

func (m *MockEventStore) GetSnapshot(_ context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MockEventStore) SaveSnapshot(_ context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveSnapshotCalls = append(m.SaveSnapshotCalls, *snapshot)
	m.snapshots[snapshot.AggregateID] = *snapshot
	return nil
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.snapshots = make(map[string]store.Snapshot)
	m.AppendCalls = nil
	m.SaveSnapshotCalls = nil
	m.AppendErr = nil
	m.GetEventsErr = nil
	m.AppendCallback = nil
}

// SetEvents sets events directly for testing
func (m *MockEventStore) SetEvents(aggregateID string, events []store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[aggregateID] = events
}

// SetSnapshot seeds a snapshot for testing
func (m *MockEventStore) SetSnapshot(snapshot store.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = snapshot
}

// AddEvent adds a single event for testing without recording an Append call
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.newEvent(aggregateID, aggregateType, eventType, len(m.events[aggregateID])+1, data)
	if err != nil {
		return err
	}
	m.events[aggregateID] = append(m.events[aggregateID], event)
	return nil
}

func (m *MockEventStore) newEvent(aggregateID, aggregateType, eventType string, version int, data any) (store.Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return store.Event{}, err
	}
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}
	return store.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     now,
		Version:       version,
	}, nil
}

var _ store.EventStoreInterface = (*MockEventStore)(nil)
