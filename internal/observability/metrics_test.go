package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func serve(metrics *Metrics, pattern string, status int) {
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, pattern)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func scrape(metrics *Metrics) string {
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()
	serve(metrics, "/test", http.StatusTeapot)

	body := scrape(metrics)
	if !strings.Contains(body, `rentalbooks_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `rentalbooks_http_request_duration_seconds_bucket{route="/test"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
	if strings.Contains(body, "rentalbooks_statements_served_total{") {
		t.Fatalf("non statement route counted as statement: %s", body)
	}
}

func TestMetricsMiddlewareCountsStatements(t *testing.T) {
	metrics := NewMetrics()
	serve(metrics, "/api/v1/properties/{propertyID}/balance-sheet/{year}", http.StatusOK)
	serve(metrics, "/api/v1/properties/{propertyID}/balance-sheet/{year}", http.StatusNotFound)

	body := scrape(metrics)
	if !strings.Contains(body, `rentalbooks_statements_served_total{kind="balance_sheet"} 1`) {
		t.Fatalf("expected one served balance sheet, got: %s", body)
	}
}
