package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgemesh/core/pkg/anomaly"
	"github.com/edgemesh/core/pkg/circuitbreaker"
	"github.com/edgemesh/core/pkg/health"
)

func TestStatusReflectsHealthAggregatorSeverity(t *testing.T) {
	agg := health.New(health.Config{}, nil)
	agg.Register("replica", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusCritical}
	})

	router := NewRouter(Deps{Health: agg})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observability/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for critical status, got %d", rec.Code)
	}
}

func TestBreakersEndpointListsRegisteredBreakers(t *testing.T) {
	registry := circuitbreaker.NewRegistry(nil)
	registry.Get("downstream-a")

	router := NewRouter(Deps{Breakers: registry})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observability/breakers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestResetBreakerRequiresAdminToken(t *testing.T) {
	registry := circuitbreaker.NewRegistry(nil)
	registry.Get("downstream-a")

	router := NewRouter(Deps{Breakers: registry, AdminToken: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/observability/reset/downstream-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/observability/reset/downstream-a", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", rec.Code)
	}
}

func TestResetUnknownBreakerReturns404(t *testing.T) {
	registry := circuitbreaker.NewRegistry(nil)
	router := NewRouter(Deps{Breakers: registry, AdminToken: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/observability/reset/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown breaker, got %d", rec.Code)
	}
}

func TestAlertsEndpointFiltersBySeverity(t *testing.T) {
	hist := anomaly.NewHistory(10)
	hist.Record(anomaly.Alert{Severity: anomaly.SeverityLow})
	hist.Record(anomaly.Alert{Severity: anomaly.SeverityCritical})

	router := NewRouter(Deps{Alerts: hist})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observability/alerts?severity=critical", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCorrelationChainWithoutManagerReturns404(t *testing.T) {
	// No correlation manager wired: the endpoint reports unavailable rather
	// than panicking.
	router := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observability/correlation/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	router := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
