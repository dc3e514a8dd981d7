package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservabilityLabelsByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs := NewObservability(ObservabilityConfig{Enabled: true, Registry: registry}, nil)

	router := chi.NewRouter()
	router.Use(obs.Middleware(""))
	router.Get("/v1/pools/{pool}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/pools/abc", nil))
	}
	got := testutil.ToFloat64(obs.requests.WithLabelValues("/v1/pools/{pool}", http.MethodGet, "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests recorded, got %v", got)
	}
}

func TestObservabilityMetricsHandler(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true}, nil)
	handler := obs.Middleware("healthz")(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), `stake_api_requests_total{method="GET",route="healthz",status="200"} 1`) {
		t.Fatalf("metrics output missing request counter:\n%s", res.Body.String())
	}
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent || res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight not answered: %d %v", res.Code, res.Header())
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/pools/abc", nil)
	other.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}
