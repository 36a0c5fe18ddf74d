// Package metrics exposes the Prometheus registry used by pmdata.
// All metrics are defined in their respective packages (cache, pagination,
// history, client, retry, ratelimit) to keep those packages self-contained.
//
// This package provides the scrape handler and a reference of every metric.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the Prometheus registry all pmdata metrics register with.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes Handler at /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - pmdata_cache_hits_total{artifact} (Counter): Artifact reads served from disk
//   - pmdata_cache_misses_total{artifact} (Counter): Artifact reads that found nothing usable
//   - pmdata_cache_corrupt_total{artifact} (Counter): Unreadable or malformed artifacts
//   - pmdata_cache_bytes_written_total{artifact} (Counter): Bytes committed by artifact kind
//   - pmdata_cache_errors_total{operation} (Counter): Cache write/delete failures
//
// Collector Metrics (pkg/pagination):
//   - pmdata_collector_pages_total{namespace, source} (Counter): Listing pages walked, from cache or network
//   - pmdata_collector_short_page_refetches_total{namespace} (Counter): Short pages fetched again
//   - pmdata_collector_pages_per_collect (Histogram): Pages walked per Collect call
//
// History Metrics (pkg/history):
//   - pmdata_history_chunks_total{source} (Counter): Price windows resolved from cache or network
//   - pmdata_history_chunks_per_series{mode} (Histogram): Windows walked per request
//
// Request Metrics (pkg/client):
//   - pmdata_requests_total{endpoint, status} (Counter): Provider requests by endpoint and HTTP status
//   - pmdata_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pmdata_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/retry):
//   - pmdata_retries_total{error_class} (Counter): Retry attempts by error class
//   - pmdata_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pmdata_retry_exhausted_total{error_class} (Counter): Operations that exhausted their attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - pmdata_rate_limit_cooldown_seconds (Gauge): Seconds left in the provider cooldown
//   - pmdata_rate_limit_hits_total (Counter): 429 responses received
//   - pmdata_rate_limit_waits_total (Counter): Requests delayed by a cooldown
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pmdata_cache_hits_total[5m])) /
//   (sum(rate(pmdata_cache_hits_total[5m])) + sum(rate(pmdata_cache_misses_total[5m])))
//
//   # Pages served from cache vs. network
//   sum by (source) (rate(pmdata_collector_pages_total[5m]))
//
//   # Request Error Rate
//   rate(pmdata_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pmdata_request_duration_seconds_bucket[5m]))
