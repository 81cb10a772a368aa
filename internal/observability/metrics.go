package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfshare",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shelfshare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	txRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfshare",
			Subsystem: "store",
			Name:      "transaction_retries_total",
			Help:      "Transactions re-run after a retryable store conflict.",
		},
		[]string{"reason"},
	)
	engineOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfshare",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by outcome kind.",
		},
		[]string{"operation", "outcome"},
	)
	successions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfshare",
			Subsystem: "engine",
			Name:      "admin_successions_total",
			Help:      "Admins promoted because the previous admin deleted their account.",
		},
		[]string{"policy"},
	)
	bookMerges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shelfshare",
			Subsystem: "engine",
			Name:      "book_merges_total",
			Help:      "Book edits resolved as a merge into an existing catalog item.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, txRetries, engineOps, successions, bookMerges)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTxRetry(reason string) {
	RegisterMetrics()
	txRetries.WithLabelValues(reason).Inc()
}

// RecordOperation counts one engine call. outcome is "ok" or an error kind.
func RecordOperation(operation, outcome string) {
	RegisterMetrics()
	engineOps.WithLabelValues(operation, outcome).Inc()
}

func RecordSuccession(policy string) {
	RegisterMetrics()
	successions.WithLabelValues(policy).Inc()
}

func RecordBookMerge() {
	RegisterMetrics()
	bookMerges.Inc()
}
