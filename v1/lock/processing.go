package lock

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearmind/pledge/v1/watchbus"
)

// DefaultHoldDuration is used when Acquire is called with a non-positive
// duration.
const DefaultHoldDuration = 8 * time.Second

// DefaultName names a Processing lock created without WithName.
const DefaultName = "processing"

// Status is a point-in-time view of a Processing lock.
type Status struct {
	Name       string    `json:"name"`
	Processing bool      `json:"processing"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// Processing is an in-process try-lock whose holds expire on their own.
// Create one per process with NewProcessing and share the pointer.
//
// Metrics and events are recorded under the lock so they follow the order of
// state changes. The event bus must therefore not block or call back into
// the lock; logging happens after the lock is dropped.
type Processing struct {
	name    string
	clock   clock.Clock
	logger  *slog.Logger
	events  watchbus.WatchBus
	metrics *lockMetrics

	mu         sync.Mutex
	held       bool
	pending    *clock.Timer
	gen        uint64
	acquiredAt time.Time
	expiresAt  time.Time
}

// NewProcessing returns an unlocked Processing lock.
func NewProcessing(opts ...Option) *Processing {
	o := options{name: DefaultName}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	p := &Processing{
		name:   o.name,
		clock:  o.clock,
		logger: o.logger.With("lock", o.name),
		events: o.events,
	}
	if o.reg != nil {
		p.metrics = newLockMetrics(o.name, o.reg)
	}
	return p
}

// Name returns the lock name used in logs, events and metric labels.
func (p *Processing) Name() string { return p.name }

// Acquire tries to take the lock for d and reports whether it succeeded. It
// never blocks. A failed attempt leaves the current hold and its expiry
// untouched. A non-positive d selects DefaultHoldDuration.
func (p *Processing) Acquire(d time.Duration) bool {
	if d <= 0 {
		d = DefaultHoldDuration
	}

	p.mu.Lock()
	if p.held {
		expiresAt := p.expiresAt
		p.metrics.observeAcquire(false)
		err := p.publish(Event{State: StateLocked, Reason: ReasonDenied, ExpiresAt: expiresAt})
		p.mu.Unlock()
		p.logger.Debug("processing lock denied", "expires_at", expiresAt)
		p.logPublishErr(err)
		return false
	}
	if p.pending != nil {
		p.pending.Stop()
	}
	p.gen++
	gen := p.gen
	now := p.clock.Now()
	p.held = true
	p.acquiredAt = now
	p.expiresAt = now.Add(d)
	p.pending = p.clock.AfterFunc(d, func() { p.expire(gen) })
	p.metrics.observeAcquire(true)
	err := p.publish(Event{State: StateLocked, Reason: ReasonAcquired, Generation: gen, ExpiresAt: p.expiresAt})
	p.mu.Unlock()

	p.logger.Info("processing lock acquired", "hold", d, "generation", gen)
	p.logPublishErr(err)
	return true
}

// Release clears the lock and cancels its pending expiry. It is idempotent
// and does not check which caller acquired the current hold.
func (p *Processing) Release() {
	p.mu.Lock()
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
	if !p.held {
		p.mu.Unlock()
		return
	}
	p.held = false
	gen := p.gen
	heldFor := p.clock.Since(p.acquiredAt)
	p.metrics.observeRelease(ReasonManual, heldFor)
	err := p.publish(Event{State: StateUnlocked, Reason: ReasonManual, Generation: gen})
	p.mu.Unlock()

	p.logger.Info("processing lock released", "reason", ReasonManual, "held_for", heldFor)
	p.logPublishErr(err)
}

// expire runs on the auto-release timer. A timer that was stopped after its
// callback had already been scheduled carries a stale generation and must
// not clear a later hold.
func (p *Processing) expire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.pending == nil {
		p.mu.Unlock()
		return
	}
	p.held = false
	p.pending = nil
	heldFor := p.clock.Since(p.acquiredAt)
	p.metrics.observeRelease(ReasonExpired, heldFor)
	err := p.publish(Event{State: StateUnlocked, Reason: ReasonExpired, Generation: gen})
	p.mu.Unlock()

	p.logger.Warn("processing lock expired", "reason", ReasonExpired, "held_for", heldFor, "generation", gen)
	p.logPublishErr(err)
}

// IsProcessing reports whether the lock is currently held.
func (p *Processing) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Status returns a snapshot of the lock.
func (p *Processing) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{Name: p.name, Processing: p.held}
	if p.held {
		st.AcquiredAt = p.acquiredAt
		st.ExpiresAt = p.expiresAt
	}
	return st
}

// Do runs fn while holding the lock for at most d. It returns false without
// calling fn when the lock is already held. The lock is released when fn
// returns, even if the hold expired while fn was running.
func (p *Processing) Do(d time.Duration, fn func() error) (bool, error) {
	if !p.Acquire(d) {
		return false, nil
	}
	defer p.Release()
	return true, fn()
}

type lockMetrics struct {
	acquire *prometheus.CounterVec
	release *prometheus.CounterVec
	held    prometheus.Gauge
	hold    prometheus.Histogram
}

func newLockMetrics(name string, reg prometheus.Registerer) *lockMetrics {
	labels := prometheus.Labels{"lock": name}
	m := &lockMetrics{
		acquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pledge_lock_acquire_total",
			Help:        "Total number of processing lock acquisition attempts",
			ConstLabels: labels,
		}, []string{"result"}),
		release: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pledge_lock_release_total",
			Help:        "Total number of processing lock releases",
			ConstLabels: labels,
		}, []string{"reason"}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pledge_lock_held",
			Help:        "Whether the processing lock is held",
			ConstLabels: labels,
		}),
		hold: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "pledge_lock_hold_seconds",
			Help:        "Time the processing lock was held before release",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.acquire, m.release, m.held, m.hold)
	return m
}

func (m *lockMetrics) observeAcquire(granted bool) {
	if m == nil {
		return
	}
	if !granted {
		m.acquire.WithLabelValues("denied").Inc()
		return
	}
	m.acquire.WithLabelValues("granted").Inc()
	m.held.Set(1)
}

func (m *lockMetrics) observeRelease(reason string, heldFor time.Duration) {
	if m == nil {
		return
	}
	m.held.Set(0)
	m.hold.Observe(heldFor.Seconds())
	m.release.WithLabelValues(reason).Inc()
}
