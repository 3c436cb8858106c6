package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/pcr_records", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusServiceUnavailable, "degraded")
	})

	for _, path := range []string{"/pcr_records?limit=5", "/pcr_records?limit=6", "/health"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name != "pcrd.http.requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			byRoute := map[string]int64{}
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("endpoint"))
				byRoute[route.AsString()] += dp.Value
				if route.AsString() == "/health" {
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					assert.Equal(t, int64(http.StatusServiceUnavailable), status.AsInt64())
				}
			}
			assert.Equal(t, map[string]int64{"/pcr_records": 2, "/health": 1}, byRoute)
		}
	}

	assert.True(t, found["pcrd.http.requests_total"])
	assert.True(t, found["pcrd.http.request_duration_seconds"])
	assert.True(t, found["pcrd.http.response_size_bytes"])
	assert.True(t, found["pcrd.http.active_requests"])
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/pcr_records/", "/pcr_records"},
		{"/api/v1/search", "/api/v1/search"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, routeLabel(tt.input), tt.input)
	}
}
