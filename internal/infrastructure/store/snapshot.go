package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotThreshold defines the number of events after which a snapshot is created
const SnapshotThreshold = 10

// Snapshot represents a point-in-time state of an aggregate
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"` // last event version folded into State
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewSnapshot serializes state into a snapshot at version.
func NewSnapshot(aggregateID, aggregateType string, version int, state any) (*Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal %s snapshot: %w", aggregateType, err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// ShouldSnapshot reports whether version crosses the snapshot threshold.
func ShouldSnapshot(version int) bool {
	return version > 0 && version%SnapshotThreshold == 0
}
