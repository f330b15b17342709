// Package metrics exposes the Prometheus collectors shared by pledge
// components. Per-lock collectors are created by lock.WithMetrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sync run outcomes used as the "status" label of SyncRunCounter.
const (
	SyncOK      = "ok"
	SyncSkipped = "skipped"
	SyncFailed  = "failed"
)

var (
	// SyncRunCounter tracks check-in sync runs by outcome.
	SyncRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pledge_sync_runs_total",
		Help: "Total number of check-in sync runs",
	}, []string{"status"})
	// CheckInsPushedCounter tracks check-ins written to the remote store.
	CheckInsPushedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pledge_sync_checkins_pushed_total",
		Help: "Total number of check-ins pushed to the remote store",
	})
	// OutboxGauge reports check-ins still waiting after the last sync.
	OutboxGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pledge_outbox_pending",
		Help: "Check-ins pending in the local outbox after the last sync",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterSyncMetrics registers the sync collectors on the provided registry.
func RegisterSyncMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SyncRunCounter, CheckInsPushedCounter, OutboxGauge)
}
