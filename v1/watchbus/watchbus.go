// Package watchbus streams diagnostic events to in-process watchers. The
// processing lock publishes its state transitions here and the HTTP layer
// forwards them to SSE and WebSocket clients.
package watchbus

import "context"

// WatchBus provides a simple message bus for streaming events.
type WatchBus interface {
	// Publish sends data to all watchers of key. It never blocks on a slow
	// watcher; messages that do not fit the watcher buffer are dropped.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch subscribes to messages for key. The returned channel receives
	// payloads until ctx is canceled or Unwatch is called.
	Watch(ctx context.Context, key string) (chan []byte, error)
	// Unwatch stops delivering messages for key to ch and closes it.
	Unwatch(ctx context.Context, key string, ch chan []byte) error
}
