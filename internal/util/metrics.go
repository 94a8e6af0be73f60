package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Total number of reconciliation runs by mode and result",
	}, []string{"mode", "result"})

	OrdersFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_fetched_total",
		Help: "Total number of raw orders fetched from the source platform",
	})

	OrdersSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_skipped_total",
		Help: "Total number of malformed source orders skipped",
	})

	FetchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetch_pages_total",
		Help: "Total number of source API pages fetched",
	})

	FetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetch_retries_total",
		Help: "Total number of retried source API requests",
	})

	AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total number of source API credential rejections",
	})

	InvariantViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invariant_violations_total",
		Help: "Total number of reconciliation invariant violations surfaced",
	})

	DailyRowsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daily_rows_upserted_total",
		Help: "Total number of daily sales rows written",
	})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetch_window_latency_seconds",
		Help:    "Latency of fetching one tenant window from the source platform",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	AggregateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregate_latency_seconds",
		Help:    "Latency of folding a window into daily rows",
		Buckets: prometheus.DefBuckets,
	})

	UpsertLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "upsert_latency_seconds",
		Help:    "Latency of the daily sales upsert transaction",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
