package watchbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryWatchBusDeliversToWatchers(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	a, err := bus.Watch(ctx, "lock:sync")
	require.NoError(t, err)
	b, err := bus.Watch(ctx, "lock:sync")
	require.NoError(t, err)
	other, err := bus.Watch(ctx, "lock:other")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "lock:sync", []byte("acquired")))

	for _, ch := range []chan []byte{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, "acquired", string(msg))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
	select {
	case msg := <-other:
		t.Fatalf("unexpected message on other key: %s", msg)
	default:
	}
}

func TestInMemoryWatchBusDropsWhenFull(t *testing.T) {
	bus := NewInMemory(WithBuffer(1))
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "k", []byte("first")))
	require.NoError(t, bus.Publish(ctx, "k", []byte("second")))

	assert.Equal(t, "first", string(<-ch))
	select {
	case msg := <-ch:
		t.Fatalf("expected overflow to be dropped, got %s", msg)
	default:
	}
}

func TestInMemoryWatchBusUnwatchClosesChannel(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 1, bus.Watchers("k"))

	require.NoError(t, bus.Unwatch(ctx, "k", ch))
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Watchers("k"))

	// unknown channel is ignored
	require.NoError(t, bus.Unwatch(ctx, "k", make(chan []byte)))
	require.NoError(t, bus.Publish(ctx, "k", []byte("after")))
}

func TestInMemoryWatchBusContextCancelUnwatches(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := bus.Watch(ctx, "k")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return bus.Watchers("k") == 0 }, time.Second, 5*time.Millisecond)
}

func TestInMemoryWatchBusCanceledContext(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Watch(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, bus.Publish(ctx, "k", nil), context.Canceled)
}
