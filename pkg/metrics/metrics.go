// Package metrics exposes the Prometheus registry shared by the pipeline.
// Metrics are declared with promauto in the package that owns them; this
// package serves them and documents what exists.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all pipeline metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Token Metrics (pkg/auth):
//   - offers_token_refresh_total{result} (Counter): Token grants by result
//
// Rate Limit Metrics (pkg/ratelimit):
//   - offers_ratelimit_wait_seconds (Histogram): Time callers spent waiting for a slot
//   - offers_ratelimit_dispatches_total (Counter): Requests released by the limiter
//
// Request Metrics (pkg/client):
//   - offers_requests_total{status} (Counter): Search requests by HTTP status
//   - offers_request_duration_seconds (Histogram): Search request duration
//   - offers_retries_total{error_class} (Counter): Retry attempts by error class
//   - offers_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - offers_retry_exhausted_total{error_class} (Counter): Windows that exhausted their retries
//
// Audit Metrics (pkg/audit):
//   - offers_audit_errors_total{sink} (Counter): Audit entries that could not be written
//
// Scan Metrics (pkg/pagination):
//   - offers_partition_scans_total{result} (Counter): Partition scans by result
//   - offers_partition_records (Histogram): Records collected per partition
//
// Storage Metrics (pkg/bronze, pkg/silver):
//   - offers_bronze_writes_total{result} (Counter): Snapshot writes by result
//   - offers_bronze_snapshot_records (Gauge): Records in the last snapshot written
//   - offers_silver_records_total{result} (Counter): Bronze records transformed, skipped or partial
//
// Run Metrics (pkg/pipeline):
//   - offers_partitions_total{result} (Counter): Partitions by run outcome
//   - offers_records_total{layer} (Counter): Records written per layer
//   - offers_run_duration_seconds{stage} (Histogram): Run duration by stage
//
// Example Prometheus Queries:
//
//   # Partition failure ratio
//   sum(rate(offers_partitions_total{result="failed"}[1d])) /
//   sum(rate(offers_partitions_total[1d]))
//
//   # Token refreshes per run
//   increase(offers_token_refresh_total{result="success"}[1d])
//
//   # P95 search latency
//   histogram_quantile(0.95, rate(offers_request_duration_seconds_bucket[5m]))
