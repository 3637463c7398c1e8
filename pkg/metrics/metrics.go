// Package metrics serves the Prometheus registry and a health probe.
// All metrics are defined in their respective packages (scheduler,
// pagination, persist, client, redisstore) via promauto.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by gallery-fetch.
var Registry = prometheus.DefaultRegisterer

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// healthTimeout bounds a single health probe.
const healthTimeout = 2 * time.Second

// NewHandler returns a mux serving /metrics and /health. A nil health
// always reports OK.
func NewHandler(health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(health))
	return mux
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := health(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "UNHEALTHY: %v", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// Metrics Documentation
//
// Scheduler Metrics (pkg/scheduler):
//   - gallery_scheduler_dispatched_total (Counter): Fetches dispatched
//   - gallery_scheduler_completed_total{outcome} (Counter): ok, failed, not_found, cancelled
//   - gallery_scheduler_skipped_total (Counter): Queued keys dropped by the precondition
//   - gallery_scheduler_dropped_results_total (Counter): Late results of cancelled fetches
//   - gallery_scheduler_cancelled_total (Counter): In-flight fetches cancelled by teardown
//   - gallery_scheduler_retries_total (Counter): User retries
//   - gallery_scheduler_in_flight (Gauge): Fetches in flight, never above 3 per scope
//   - gallery_scheduler_queue_length (Gauge): Keys waiting
//   - gallery_scheduler_fetch_duration_seconds (Histogram)
//
// Pagination Metrics (pkg/pagination):
//   - gallery_pagination_requests_total{slot} (Counter): primary, footer
//   - gallery_pagination_request_duration_seconds{slot} (Histogram)
//   - gallery_pagination_gap_skips_total (Counter): Automatic continuations past empty pages
//   - gallery_pagination_items_added_total (Counter): Items appended by load-more
//   - gallery_pagination_exhausted_total (Counter): Lists that reached the last page
//   - gallery_pagination_dropped_results_total (Counter): Superseded responses
//
// Persistence Metrics (pkg/persist, pkg/store/redisstore):
//   - gallery_persist_upserts_total{result} (Counter): ok, error
//   - gallery_persist_upsert_duration_seconds (Histogram)
//   - gallery_redis_store_hits_total, gallery_redis_store_misses_total (Counter)
//   - gallery_redis_store_value_bytes (Histogram)
//   - gallery_redis_store_errors_total{operation} (Counter): load, upsert, delete
//
// Request Metrics (pkg/client):
//   - gallery_client_requests_total{endpoint, status} (Counter)
//   - gallery_client_request_duration_seconds{endpoint} (Histogram)
//   - gallery_client_errors_total{class} (Counter): client, server, rate_limit, network, parse
//
// Example Prometheus Queries:
//
//   # Preview failure rate
//   sum(rate(gallery_scheduler_completed_total{outcome="failed"}[5m])) /
//   sum(rate(gallery_scheduler_completed_total[5m]))
//
//   # Empty pages skipped per appended item
//   rate(gallery_pagination_gap_skips_total[5m]) / rate(gallery_pagination_items_added_total[5m])
//
//   # P95 list request latency
//   histogram_quantile(0.95, rate(gallery_client_request_duration_seconds_bucket{endpoint="list"}[5m]))
