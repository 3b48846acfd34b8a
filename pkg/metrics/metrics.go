package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaspaaio_services_total",
			Help: "Number of fleet services by state and health",
		},
		[]string{"state", "health"},
	)

	MonitorCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kaspaaio_monitor_cycles_total",
			Help: "Completed service monitor observation cycles",
		},
	)

	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kaspaaio_monitor_cycle_duration_seconds",
			Help:    "Duration of one observation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaspaaio_probe_failures_total",
			Help: "Failed health probes by service",
		},
		[]string{"service"},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaspaaio_tasks_total",
			Help: "Background tasks by status",
		},
		[]string{"status"},
	)

	// Sync metrics
	SyncProgressPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaspaaio_sync_progress_pct",
			Help: "Node sync progress percentage",
		},
		[]string{"node"},
	)

	SyncBlocksPerSecond = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaspaaio_sync_blocks_per_second",
			Help: "Node sync rate over the sliding window",
		},
		[]string{"node"},
	)

	// Update metrics
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaspaaio_updates_total",
			Help: "Update pipeline outcomes by result",
		},
		[]string{"result"},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kaspaaio_rollbacks_total",
			Help: "Per-service rollbacks performed by the update pipeline",
		},
	)

	// Alert metrics
	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaspaaio_alerts_raised_total",
			Help: "Alerts raised by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	AlertsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaspaaio_alerts_open",
			Help: "Currently open alerts",
		},
	)

	// Broadcast metrics
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaspaaio_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaspaaio_broadcasts_total",
			Help: "Broadcast messages sent by subscription",
		},
		[]string{"subscription"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaspaaio_api_requests_total",
			Help: "HTTP API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ServicesTotal,
		MonitorCyclesTotal,
		MonitorCycleDuration,
		ProbeFailuresTotal,
		TasksTotal,
		SyncProgressPct,
		SyncBlocksPerSecond,
		UpdatesTotal,
		RollbacksTotal,
		AlertsRaisedTotal,
		AlertsOpen,
		WebsocketClients,
		BroadcastsTotal,
		APIRequestsTotal,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
