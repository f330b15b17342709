package lock

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearmind/pledge/v1/watchbus"
)

type options struct {
	name   string
	clock  clock.Clock
	logger *slog.Logger
	events watchbus.WatchBus
	reg    prometheus.Registerer
}

// Option configures a Processing lock.
type Option func(*options)

// WithName sets the lock name. Empty names are ignored.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithClock replaces the wall clock, mainly so tests can drive expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger receiving acquire and release diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents publishes every state change as JSON on bus under EventKey(name).
func WithEvents(bus watchbus.WatchBus) Option {
	return func(o *options) { o.events = bus }
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}
