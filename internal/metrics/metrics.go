package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolforge_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolforge_quota_checks_total",
			Help: "Total number of quota gate checks by outcome.",
		},
		[]string{"capability", "reason"},
	)

	QuotaGateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolforge_quota_gate_duration_seconds",
			Help:    "Quota gate check-and-increment duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	QuotaStoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolforge_quota_store_failures_total",
			Help: "Total number of quota gate store failures handled by the fail policy.",
		},
		[]string{"capability"},
	)

	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolforge_audit_write_failures_total",
			Help: "Total number of request audit entries that could not be recorded.",
		},
	)

	AuditEntriesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolforge_audit_entries_persisted_total",
			Help: "Total number of request audit entries written to the database.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaChecksTotal,
		QuotaGateDuration,
		QuotaStoreFailures,
		AuditWriteFailures,
		AuditEntriesPersisted,
	)
}
