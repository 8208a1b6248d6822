package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/platform/metrics"
)

// Each test uses its own namespace: NewMetrics registers against the
// global default registry, and prometheus panics on duplicate
// registration within a process.
func TestHTTPMetricsMiddlewareRecordsRequest(t *testing.T) {
	m := metrics.NewMetrics("rustflow_test_http")
	handler := m.HTTPMetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := scrapeMetrics(t, m)
	assert.Contains(t, body, `rustflow_test_http_http_requests_total{method="GET",path="/nodes",status="200"} 1`)
}

func TestNodeExecutionMetricsExposed(t *testing.T) {
	m := metrics.NewMetrics("rustflow_test_node")
	m.NodeExecutionsTotal.WithLabelValues("http_request", "success").Inc()
	m.NodeExecutionDuration.WithLabelValues("http_request").Observe(0.05)

	body := scrapeMetrics(t, m)
	assert.Contains(t, body, `rustflow_test_node_node_executions_total{node_type="http_request",status="success"} 1`)
	assert.True(t, strings.Contains(body, "rustflow_test_node_node_execution_duration_seconds"))
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
