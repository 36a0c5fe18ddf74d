package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesTotal tracks pages walked by namespace and source
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_collector_pages_total",
			Help: "Total number of listing pages walked by namespace and source",
		},
		[]string{"namespace", "source"}, // source: "cache", "network"
	)

	// ShortPageRefetches tracks re-fetches of pages shorter than the limit
	ShortPageRefetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_collector_short_page_refetches_total",
			Help: "Total number of short-page re-fetches by namespace",
		},
		[]string{"namespace"},
	)

	// PagesPerCollect tracks how many pages one Collect call walks
	PagesPerCollect = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pmdata_collector_pages_per_collect",
			Help:    "Number of pages walked per collect call",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
