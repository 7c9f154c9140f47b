package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestHTTPMetricsRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{ServiceName: "test", Environment: "test"})
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/ledger/:year", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/api/ledger/2024", "/api/ledger/2025", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := counterValue(t, registry, "carbonledger_http_requests_total", map[string]string{
		"method":      "GET",
		"route":       "/api/ledger/:year",
		"status_code": "204",
		"service":     "test",
		"env":         "test",
	})
	if got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}

	unmatched := counterValue(t, registry, "carbonledger_http_requests_total", map[string]string{
		"method":      "GET",
		"route":       "unmatched",
		"status_code": "404",
		"service":     "test",
		"env":         "test",
	})
	if unmatched != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", unmatched)
	}
}

func TestNilHTTPMetricsMiddlewareIsSafe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var m *HTTPMetrics
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
