package watchbus

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// InMemoryWatchBus is an in-memory implementation of WatchBus.
type InMemoryWatchBus struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	buffer int
}

// Option configures an InMemoryWatchBus.
type Option func(*InMemoryWatchBus)

// WithBuffer sets the per-watcher channel capacity.
func WithBuffer(n int) Option {
	return func(b *InMemoryWatchBus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewInMemory creates a new InMemoryWatchBus.
func NewInMemory(opts ...Option) *InMemoryWatchBus {
	b := &InMemoryWatchBus{subs: make(map[string][]chan []byte), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements WatchBus.Publish.
func (b *InMemoryWatchBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[key] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch implements WatchBus.Watch.
func (b *InMemoryWatchBus) Watch(ctx context.Context, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unwatch implements WatchBus.Unwatch. Unknown channels are ignored.
func (b *InMemoryWatchBus) Unwatch(ctx context.Context, key string, ch chan []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[key] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	}
	return nil
}

// Watchers reports how many channels currently watch key.
func (b *InMemoryWatchBus) Watchers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}
