package checkin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pledgeerrors "github.com/clearmind/pledge/v1/errors"
	"github.com/clearmind/pledge/v1/lock"
	"github.com/clearmind/pledge/v1/metrics"
)

const (
	defaultBatchSize  = 50
	defaultMaxRetries = 5
	tracerName        = "github.com/clearmind/pledge/v1/checkin"
)

var (
	// ErrSyncInProgress is returned by Sync when the processing lock is held.
	ErrSyncInProgress = errors.New("checkin: sync already in progress")
	// ErrInvalidInterval is returned by Run for a non-positive interval.
	ErrInvalidInterval = errors.New("checkin: sync interval must be positive")
)

// Store is the remote destination of synced check-ins.
type Store interface {
	// Push writes the batch. Writing the same habit and day twice keeps the
	// latest check-in.
	Push(ctx context.Context, batch []CheckIn) error
	// List returns the stored check-ins of a habit ordered by day.
	List(ctx context.Context, habitID string) ([]CheckIn, error)
}

// Report summarizes a single Sync call.
type Report struct {
	RunID     string        `json:"run_id"`
	Pushed    int           `json:"pushed"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration_ns"`
}

// Syncer pushes the outbox to the store, one run at a time.
type Syncer struct {
	lock       *lock.Processing
	outbox     *Outbox
	store      Store
	clock      clock.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
	holdFor    time.Duration
	batchSize  int
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithHoldDuration sets how long a run may hold the processing lock.
func WithHoldDuration(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.holdFor = d
		}
	}
}

// WithBatchSize sets how many check-ins are pushed per store call.
func WithBatchSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRetries sets the retry policy for a failed push. newBackOff is called
// once per batch and must return a fresh policy.
func WithRetries(maxRetries uint64, newBackOff func() backoff.BackOff) SyncerOption {
	return func(s *Syncer) {
		s.maxRetries = maxRetries
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// WithSyncClock sets the clock driving Run and report durations.
func WithSyncClock(c clock.Clock) SyncerOption {
	return func(s *Syncer) { s.clock = c }
}

// WithSyncLogger sets the syncer logger.
func WithSyncLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = l }
}

// WithTracer sets the tracer used for sync spans.
func WithTracer(t trace.Tracer) SyncerOption {
	return func(s *Syncer) { s.tracer = t }
}

// NewSyncer returns a Syncer guarded by l.
func NewSyncer(l *lock.Processing, outbox *Outbox, store Store, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		lock:       l,
		outbox:     outbox,
		store:      store,
		clock:      clock.New(),
		logger:     slog.Default(),
		holdFor:    lock.DefaultHoldDuration,
		batchSize:  defaultBatchSize,
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Sync drains the outbox into the store while holding the processing lock.
// It returns ErrSyncInProgress without touching the outbox when the lock is
// already held. A run stops pushing shortly before its hold would expire and
// returns the context error. Check-ins pushed before a failure stay
// acknowledged.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	start := s.clock.Now()

	ran, err := s.lock.Do(s.holdFor, func() error {
		ctx, cancel := s.clock.WithTimeout(ctx, s.runBudget())
		defer cancel()
		ctx, span := s.tracer.Start(ctx, "checkin.Sync", trace.WithAttributes(
			attribute.String("pledge.sync.run_id", report.RunID),
			attribute.String("pledge.lock", s.lock.Name()),
		))
		defer span.End()

		err := s.drain(ctx, &report)
		span.SetAttributes(attribute.Int("pledge.sync.pushed", report.Pushed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})

	report.Duration = s.clock.Since(start)
	report.Remaining = s.outbox.Len()
	metrics.OutboxGauge.Set(float64(report.Remaining))

	switch {
	case !ran:
		metrics.SyncRunCounter.WithLabelValues(metrics.SyncSkipped).Inc()
		return report, ErrSyncInProgress
	case err != nil:
		metrics.SyncRunCounter.WithLabelValues(metrics.SyncFailed).Inc()
		s.logger.Error("checkin sync failed", "run_id", report.RunID, "pushed", report.Pushed,
			"remaining", report.Remaining, "error", err)
		return report, err
	}
	metrics.SyncRunCounter.WithLabelValues(metrics.SyncOK).Inc()
	s.logger.Info("checkin sync finished", "run_id", report.RunID, "pushed", report.Pushed,
		"remaining", report.Remaining, "duration", report.Duration)
	return report, nil
}

// runBudget is how long a run may work: a tenth less than the hold, so the
// run releases before the hold can expire under it.
func (s *Syncer) runBudget() time.Duration {
	return s.holdFor - s.holdFor/10
}

func (s *Syncer) drain(ctx context.Context, report *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := s.outbox.Pending(s.batchSize)
		if len(batch) == 0 {
			return nil
		}
		if err := s.push(ctx, batch); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}
		s.outbox.Ack(ids...)
		report.Pushed += len(batch)
		metrics.CheckInsPushedCounter.Add(float64(len(batch)))
	}
}

func (s *Syncer) push(ctx context.Context, batch []CheckIn) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.store.Push(ctx, batch)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidCheckIn) || errors.Is(err, pledgeerrors.ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("checkin push failed", "attempt", attempt, "size", len(batch), "error", err)
		return err
	}, policy)
}

// Run calls Sync on every tick of interval until ctx is done. Skipped runs
// are not errors; failed runs are logged by Sync and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sync(ctx); errors.Is(err, ErrSyncInProgress) {
				s.logger.Debug("checkin sync skipped", "lock", s.lock.Name())
			}
		}
	}
}
