package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r := gin.New()
	r.Use(HTTPMetrics(provider.Meter("test")))
	r.GET("/api/v1/messages/:id", ok)

	for _, id := range []string{"a", "b"} {
		w := serve(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_server_request_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1, "route pattern keeps one series")
			assert.Equal(t, int64(2), sum.DataPoints[0].Value)
			route, _ := sum.DataPoints[0].Attributes.Value("http.route")
			assert.Equal(t, "/api/v1/messages/:id", route.AsString())
			found = true
		}
	}
	assert.True(t, found)
}

func TestHTTPMetrics_NilMeter(t *testing.T) {
	r := gin.New()
	r.Use(HTTPMetrics(nil))
	r.GET("/", ok)
	w := serve(t, r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
