package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassagesTotal is the indexed passage count seen at the last health check.
	PassagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pcrd",
			Subsystem: "vectorstore",
			Name:      "passages_total",
			Help:      "Number of passages in the collection at the last health check",
		},
	)

	// HealthCheckDuration tracks how long health checks take.
	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pcrd",
			Subsystem: "vectorstore",
			Name:      "health_check_duration_seconds",
			Help:      "Duration of health check operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// HealthCheckTotal counts health checks by result (ok, empty, error).
	HealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pcrd",
			Subsystem: "vectorstore",
			Name:      "health_checks_total",
			Help:      "Total number of health check operations",
		},
		[]string{"result"},
	)

	// HealthStatus is 1 when the store is reachable and populated.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pcrd",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current health status (1=healthy, 0=degraded)",
		},
	)
)

// Health is the result of CheckHealth.
type Health struct {
	Reachable  bool   `json:"reachable"`
	Collection string `json:"collection,omitempty"`
	Passages   int    `json:"passages"`
	Error      string `json:"error,omitempty"`
}

// Healthy reports whether searches can be served.
func (h Health) Healthy() bool {
	return h.Reachable && h.Passages > 0
}

// CheckHealth pings the store, reads the collection size and records metrics.
// A missing collection is reported as reachable with zero passages.
func CheckHealth(ctx context.Context, store Store) Health {
	start := time.Now()
	defer func() { HealthCheckDuration.Observe(time.Since(start).Seconds()) }()

	if err := store.Ping(ctx); err != nil {
		HealthCheckTotal.WithLabelValues("error").Inc()
		HealthStatus.Set(0)
		return Health{Error: err.Error()}
	}

	info, err := store.CollectionInfo(ctx)
	switch {
	case errors.Is(err, ErrCollectionNotFound):
		HealthCheckTotal.WithLabelValues("empty").Inc()
		HealthStatus.Set(0)
		PassagesTotal.Set(0)
		return Health{Reachable: true, Error: err.Error()}
	case err != nil:
		HealthCheckTotal.WithLabelValues("error").Inc()
		HealthStatus.Set(0)
		return Health{Reachable: true, Error: err.Error()}
	}

	PassagesTotal.Set(float64(info.PointCount))
	h := Health{Reachable: true, Collection: info.Name, Passages: info.PointCount}
	if h.Healthy() {
		HealthCheckTotal.WithLabelValues("ok").Inc()
		HealthStatus.Set(1)
	} else {
		HealthCheckTotal.WithLabelValues("empty").Inc()
		HealthStatus.Set(0)
	}
	return h
}
