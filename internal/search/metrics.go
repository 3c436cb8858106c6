package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts searches by result (ok, empty_query, unavailable, error).
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pcrd",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of document searches by result",
		},
		[]string{"result"},
	)

	// SearchDuration tracks end-to-end search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pcrd",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of document searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PassagesRetrieved tracks candidate set sizes returned by the index.
	PassagesRetrieved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pcrd",
			Subsystem: "search",
			Name:      "passages_retrieved",
			Help:      "Number of candidate passages returned by similarity search",
			Buckets:   []float64{0, 10, 25, 50, 100, 150, 250, 500, 1000},
		},
	)

	// DocumentsReturned tracks how many documents each search returns.
	DocumentsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pcrd",
			Subsystem: "search",
			Name:      "documents_returned",
			Help:      "Number of documents returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)
)
