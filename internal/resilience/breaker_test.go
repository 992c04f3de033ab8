package resilience

import (
	"errors"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker[int]("test-consecutive", BreakerSettings{ConsecutiveFailures: 2}, nil)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}

	calls := 0
	_, err := cb.Execute(func() (int, error) { calls++; return 1, nil })

	assert.True(t, IsOpen(err))
	assert.Zero(t, calls)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestNewBreaker_IsSuccessfulIgnoresCallerErrors(t *testing.T) {
	invalid := errors.New("invalid request")
	cb := NewBreaker[int]("test-ignore", BreakerSettings{ConsecutiveFailures: 1}, func(err error) bool {
		return err == nil || errors.Is(err, invalid)
	})

	_, err := cb.Execute(func() (int, error) { return 0, invalid })
	require.ErrorIs(t, err, invalid)

	v, err := cb.Execute(func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, StateValue(gobreaker.StateClosed))
	assert.Equal(t, 1.0, StateValue(gobreaker.StateHalfOpen))
	assert.Equal(t, 2.0, StateValue(gobreaker.StateOpen))
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
	assert.False(t, IsOpen(errors.New("other")))
}
