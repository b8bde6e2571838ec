// Package metrics exposes Prometheus instrumentation for the sync core,
// grounded on cuemby-warren's pkg/metrics package (global package-level
// metric vars, Handler() wrapping promhttp, a Timer helper) and adapted
// from cluster/scheduler metrics to the Replica/Hub/Connector concerns
// this spec's components C2-C6 carry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspacesync_connections_total",
			Help: "Total number of connector sessions by terminal outcome",
		},
		[]string{"outcome"}, // authenticated, unauthorized, negotiate_failed, closed
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspacesync_active_connections",
			Help: "Number of currently streaming connector sessions",
		},
	)

	ActiveWorkspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspacesync_active_workspaces",
			Help: "Number of workspaces with a registered Hub",
		},
	)

	BroadcastEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspacesync_broadcast_events_total",
			Help: "Total number of events published on a Hub by kind",
		},
		[]string{"kind"}, // awareness_delta, content_delta, close_user, close_all
	)

	BroadcastLaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workspacesync_broadcast_lagged_total",
			Help: "Total number of Lagged sentinels delivered to slow subscribers",
		},
	)

	StorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspacesync_storage_errors_total",
			Help: "Total number of storage operation failures by operation",
		},
		[]string{"operation"}, // load, append_update, save_snapshot
	)

	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workspacesync_compactions_total",
			Help: "Total number of snapshot compactions performed",
		},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workspacesync_transaction_duration_seconds",
			Help:    "Time taken to commit a Replica transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	FrameHandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workspacesync_frame_handle_duration_seconds",
			Help:    "Time taken to handle an inbound sync-protocol frame by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveConnections,
		ActiveWorkspaces,
		BroadcastEventsTotal,
		BroadcastLaggedTotal,
		StorageErrorsTotal,
		CompactionsTotal,
		TransactionDuration,
		FrameHandleDuration,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations, mirroring the teacher's Timer.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time onto histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time onto a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
