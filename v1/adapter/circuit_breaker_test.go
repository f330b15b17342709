package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearmind/pledge/v1/adapter"
	"github.com/clearmind/pledge/v1/checkin"
	pledgeerrors "github.com/clearmind/pledge/v1/errors"
)

type failingStore struct {
	*adapter.InMemoryStore
	err   error
	calls int
}

func (s *failingStore) Push(ctx context.Context, batch []checkin.CheckIn) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return s.InMemoryStore.Push(ctx, batch)
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	inner := &failingStore{InMemoryStore: adapter.NewInMemoryStore(), err: errors.New("down")}
	cb := adapter.NewCircuitBreaker(inner, 2, time.Minute, mock)
	batch := []checkin.CheckIn{mustCheckIn(t, "run", "2026-10-01", "")}

	require.True(t, cb.IsHealthy())
	require.EqualError(t, cb.Push(ctx, batch), "down")
	require.True(t, cb.IsHealthy(), "one failure is below the threshold")
	require.EqualError(t, cb.Push(ctx, batch), "down")
	require.False(t, cb.IsHealthy())

	require.ErrorIs(t, cb.Push(ctx, batch), pledgeerrors.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the store")

	// failed probe reopens the circuit
	mock.Add(time.Minute)
	require.True(t, cb.IsHealthy())
	require.EqualError(t, cb.Push(ctx, batch), "down")
	require.ErrorIs(t, cb.Push(ctx, batch), pledgeerrors.ErrCircuitOpen)

	// successful probe closes it
	mock.Add(time.Minute)
	inner.err = nil
	require.NoError(t, cb.Push(ctx, batch))
	require.True(t, cb.IsHealthy())
	require.NoError(t, cb.Push(ctx, batch))

	got, err := cb.List(ctx, "run")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{
		InMemoryStore: adapter.NewInMemoryStore(),
		err:           fmt.Errorf("%w: bad day", checkin.ErrInvalidCheckIn),
	}
	cb := adapter.NewCircuitBreaker(inner, 1, time.Minute, nil)
	batch := []checkin.CheckIn{mustCheckIn(t, "run", "2026-10-01", "")}

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Push(ctx, batch), checkin.ErrInvalidCheckIn)
	}
	assert.True(t, cb.IsHealthy())
	assert.Equal(t, 3, inner.calls)
}
