package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryKeyStore(time.Hour)
	s.now = func() time.Time { return now }

	done, err := s.Completed(ctx, "k")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkCompleted(ctx, "k"))
	done, err = s.Completed(ctx, "k")
	require.NoError(t, err)
	assert.True(t, done)

	now = now.Add(59 * time.Minute)
	done, _ = s.Completed(ctx, "k")
	assert.True(t, done)

	now = now.Add(time.Minute)
	done, _ = s.Completed(ctx, "k")
	assert.False(t, done)
	assert.Zero(t, s.Len())
}

func TestMemoryKeyStore_MarkKeepsFirstExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryKeyStore(time.Hour)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkCompleted(ctx, "k"))
	now = now.Add(30 * time.Minute)
	require.NoError(t, s.MarkCompleted(ctx, "k"))

	now = now.Add(30 * time.Minute)
	done, _ := s.Completed(ctx, "k")
	assert.False(t, done)
}

func TestMemoryKeyStore_SweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryKeyStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkCompleted(ctx, "a"))
	require.NoError(t, s.MarkCompleted(ctx, "b"))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.MarkCompleted(ctx, "c"))

	assert.Equal(t, 1, s.Len())
}
