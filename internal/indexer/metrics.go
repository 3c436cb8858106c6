package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesTotal counts processed files by result (indexed, skipped).
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pcrd",
			Subsystem: "indexer",
			Name:      "files_total",
			Help:      "Total number of PDF files processed by result",
		},
		[]string{"result"},
	)

	// ChunksTotal counts chunks produced for indexing.
	ChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pcrd",
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Total number of chunks produced",
		},
	)

	// BatchesTotal counts store writes by result (ok, error).
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pcrd",
			Subsystem: "indexer",
			Name:      "batches_total",
			Help:      "Total number of chunk batches written by result",
		},
		[]string{"result"},
	)
)
