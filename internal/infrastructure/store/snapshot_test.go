package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_SerializesState(t *testing.T) {
	type stockState struct {
		ProductID string `json:"product_id"`
		Stock     int    `json:"stock"`
	}

	snapshot, err := NewSnapshot("prod-1", "Inventory", 20, stockState{ProductID: "prod-1", Stock: 55})
	require.NoError(t, err)

	assert.Equal(t, "prod-1", snapshot.AggregateID)
	assert.Equal(t, "Inventory", snapshot.AggregateType)
	assert.Equal(t, 20, snapshot.Version)
	assert.NotZero(t, snapshot.CreatedAt)

	var restored stockState
	require.NoError(t, json.Unmarshal(snapshot.State, &restored))
	assert.Equal(t, 55, restored.Stock)
}

func TestNewSnapshot_UnserializableState(t *testing.T) {
	_, err := NewSnapshot("x", "Inventory", 1, make(chan int))
	assert.Error(t, err)
}

func TestShouldSnapshot(t *testing.T) {
	assert.Equal(t, 10, SnapshotThreshold)
	assert.False(t, ShouldSnapshot(0))
	assert.False(t, ShouldSnapshot(9))
	assert.True(t, ShouldSnapshot(10))
	assert.False(t, ShouldSnapshot(11))
	assert.True(t, ShouldSnapshot(30))
}
