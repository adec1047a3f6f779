package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for paginator operations, labelled by paginator name.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_pages_fetched_total",
		Help: "Total pages fetched successfully by paginator",
	}, []string{"paginator"})

	itemsYieldedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_items_yielded_total",
		Help: "Total items yielded to consumers by paginator",
	}, []string{"paginator"})

	emptyPagesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_empty_pages_skipped_total",
		Help: "Total empty intermediate pages collapsed by paginator",
	}, []string{"paginator"})

	pageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_page_failures_total",
		Help: "Total failed page fetches by paginator and error kind",
	}, []string{"paginator", "kind"})

	pageFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webapi_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by paginator",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"paginator"})
)
