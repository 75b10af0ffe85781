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

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/patterns/:id/outcomes", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.PUT("/api/v1/patterns/:id/remediation", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	})

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/patterns/0b4f/outcomes"},
		{http.MethodPost, "/api/v1/patterns/9a1c/outcomes"},
		{http.MethodPut, "/api/v1/patterns/9a1c/remediation"},
		{http.MethodGet, "/nope"},
	}
	for _, r := range requests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			found[mt.Name] = true
			switch mt.Name {
			case "mender.http.requests_total":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)

				byEndpoint := map[string]int64{}
				byStatus := map[int64]int64{}
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
					endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					byEndpoint[endpoint.AsString()] += dp.Value
					byStatus[status.AsInt64()] += dp.Value
				}
				assert.Equal(t, int64(5), total)
				assert.Equal(t, int64(2), byEndpoint["/api/v1/patterns/:id/outcomes"])
				assert.Equal(t, int64(1), byEndpoint["/api/v1/patterns/:id/remediation"])
				assert.Equal(t, int64(3), byStatus[http.StatusOK])
				assert.Equal(t, int64(2), byStatus[http.StatusNotFound])
				for endpoint := range byEndpoint {
					assert.NotContains(t, endpoint, "9a1c")
				}
			case "mender.http.request_duration_seconds":
				hist, ok := mt.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var count uint64
				for _, dp := range hist.DataPoints {
					count += dp.Count
				}
				assert.Equal(t, uint64(5), count)
			}
		}
	}

	assert.True(t, found["mender.http.requests_total"], "requests counter not found")
	assert.True(t, found["mender.http.request_duration_seconds"], "duration histogram not found")
	assert.True(t, found["mender.http.response_size_bytes"], "response size histogram not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/patterns/:id/outcomes", "/api/v1/patterns/:id/outcomes"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.input))
		})
	}
}
