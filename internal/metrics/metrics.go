package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maistro_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maistro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maistro_turns_total",
			Help: "Total number of conversation turns processed.",
		},
		[]string{"status"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maistro_dispatches_total",
			Help: "Total number of memory update dispatches.",
		},
		[]string{"kind"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maistro_reconcile_duration_seconds",
			Help:    "Memory reconciliation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RecordsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maistro_records_written_total",
			Help: "Total number of memory records written.",
		},
		[]string{"kind", "op"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TurnsTotal,
		DispatchesTotal,
		ReconcileDuration,
		RecordsWrittenTotal,
	)
}
