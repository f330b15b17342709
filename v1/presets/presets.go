// Package presets assembles ready-to-run sync stacks: a processing lock with
// its event bus and metrics, the outbox, a store and the syncer around them.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/clearmind/pledge/v1/adapter"
	"github.com/clearmind/pledge/v1/checkin"
	"github.com/clearmind/pledge/v1/lock"
	"github.com/clearmind/pledge/v1/metrics"
	"github.com/clearmind/pledge/v1/server"
	"github.com/clearmind/pledge/v1/watchbus"
)

// DefaultLockName names the lock guarding the check-in sync.
const DefaultLockName = "checkin-sync"

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// Options tunes the sync side of a stack. Zero values select defaults.
type Options struct {
	LockName  string
	HoldFor   time.Duration
	BatchSize int
	Logger    *slog.Logger

	// BreakerThreshold is the number of consecutive failed pushes that open
	// the circuit around a remote store. A negative value disables it.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Stack holds the wired components of a sync daemon.
type Stack struct {
	Lock     *lock.Processing
	Events   *watchbus.InMemoryWatchBus
	Outbox   *checkin.Outbox
	Store    checkin.Store
	Syncer   *checkin.Syncer
	Registry *prometheus.Registry

	closers []func() error
}

// Deps returns the components in the shape the HTTP server expects.
func (s *Stack) Deps() server.Deps {
	return server.Deps{
		Lock:   s.Lock,
		Syncer: s.Syncer,
		Outbox: s.Outbox,
		Store:  s.Store,
		Events: s.Events,
	}
}

// Close releases backend connections.
func (s *Stack) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewInMemoryStandalone creates a stack that runs entirely in-memory with no
// external dependencies. Useful for local development and tests.
func NewInMemoryStandalone(opts Options) *Stack {
	return build(adapter.NewInMemoryStore(), opts)
}

// NewRedis creates a stack pushing check-ins to Redis. The connection is
// checked with PING before returning.
func NewRedis(ctx context.Context, ro RedisOptions, opts Options) (*Stack, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ro.Addr, err)
	}
	var store checkin.Store = adapter.NewRedisStore(client)
	if opts.BreakerThreshold >= 0 {
		threshold, cooldown := opts.BreakerThreshold, opts.BreakerCooldown
		if threshold == 0 {
			threshold = defaultBreakerThreshold
		}
		if cooldown <= 0 {
			cooldown = defaultBreakerCooldown
		}
		store = adapter.NewCircuitBreaker(store, threshold, cooldown, nil)
	}
	s := build(store, opts)
	s.closers = append(s.closers, client.Close)
	return s, nil
}

func build(store checkin.Store, opts Options) *Stack {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.LockName
	if name == "" {
		name = DefaultLockName
	}

	reg := metrics.NewRegistry()
	metrics.RegisterSyncMetrics(reg)
	events := watchbus.NewInMemory()
	l := lock.NewProcessing(
		lock.WithName(name),
		lock.WithLogger(logger),
		lock.WithEvents(events),
		lock.WithMetrics(reg),
	)
	outbox := checkin.NewOutbox()
	syncer := checkin.NewSyncer(l, outbox, store,
		checkin.WithHoldDuration(opts.HoldFor),
		checkin.WithBatchSize(opts.BatchSize),
		checkin.WithSyncLogger(logger),
	)
	return &Stack{
		Lock:     l,
		Events:   events,
		Outbox:   outbox,
		Store:    store,
		Syncer:   syncer,
		Registry: reg,
	}
}
