package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal tracks price windows resolved by source
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_history_chunks_total",
			Help: "Total number of price-history windows resolved by source",
		},
		[]string{"source"}, // "cache", "network"
	)

	// ChunksPerSeries tracks how many windows one series needed
	ChunksPerSeries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pmdata_history_chunks_per_series",
			Help:    "Number of windows walked per price-history request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"mode"},
	)
)
