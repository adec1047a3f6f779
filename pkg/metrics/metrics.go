// Package metrics exposes the Prometheus metrics of webapi-kit.
// All metrics are defined in their respective packages (pagination, client,
// internal/github) via promauto to keep those packages self-contained.
//
// This package serves them and documents the catalogue.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every webapi-kit metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// NewServer returns a server for addr that serves /metrics and /health.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Metrics Documentation
//
// Pagination Metrics (pkg/pagination), labelled by paginator name:
//   - webapi_pages_fetched_total{paginator} (Counter): Pages fetched successfully
//   - webapi_items_yielded_total{paginator} (Counter): Items handed to consumers
//   - webapi_empty_pages_skipped_total{paginator} (Counter): Empty intermediate pages collapsed
//   - webapi_page_failures_total{paginator, kind} (Counter): Failed fetches by error kind
//   - webapi_page_fetch_duration_seconds{paginator} (Histogram): Fetch plus decode duration
//
// Request Metrics (pkg/client):
//   - webapi_requests_total{route, status} (Counter): Requests by route template and HTTP status
//   - webapi_request_duration_seconds{route} (Histogram): Request duration by route template
//   - webapi_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, canceled)
//
// Retry Metrics (internal/github):
//   - webapi_retries_total{error_class} (Counter): Retry attempts by error class
//   - webapi_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - webapi_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Items per page
//   rate(webapi_items_yielded_total[5m]) / rate(webapi_pages_fetched_total[5m])
//
//   # Decode failures
//   sum by (paginator) (rate(webapi_page_failures_total{kind="decode"}[5m]))
//
//   # Request Error Rate
//   rate(webapi_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(webapi_request_duration_seconds_bucket[5m]))
