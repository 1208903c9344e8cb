package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_sync_passes_total",
			Help: "Total number of feed synchronization passes",
		},
		[]string{"result"},
	)

	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_sync_pass_duration_seconds",
			Help:    "Duration of feed synchronization passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_sync_fallbacks_total",
			Help: "Sub-fetches replaced by fallback values during synchronization",
		},
		[]string{"kind"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transaction outcomes by action kind",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HttpRequestsTotal,
		HttpRequestDuration,
		ActiveConnections,
		SyncPassesTotal,
		SyncPassDuration,
		SyncFallbacksTotal,
		TransactionsTotal,
	)
}
