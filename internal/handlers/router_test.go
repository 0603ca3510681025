package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/services"
)

func serve(router http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, body))
	return rr
}

func noContent(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func TestNewRouterProbes(t *testing.T) {
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{"postgres": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return testNow }),
	)
	router := NewRouter(WithHealthHandlers(health))

	rr := serve(router, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("healthz: got %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if rr := serve(router, http.MethodHead, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("HEAD healthz: expected 200, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/readyz", nil); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}

func TestNewRouterUnregisteredGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter(WithOrderRoutes(noContent))

	for _, target := range []string{"/api/v1/plans", "/api/v1/payments/verify", "/api/v1/admin/plans/p1", "/api/v1/internal/orders/reconciliation"} {
		rr := serve(router, http.MethodGet, target, nil)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", target, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != "not_implemented" {
			t.Fatalf("%s: unexpected body %s", target, rr.Body.String())
		}
	}
	if rr := serve(router, http.MethodGet, "/api/v1/orders", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("registered group: expected 204, got %d", rr.Code)
	}
}

func TestNewRouterUnknownRoute(t *testing.T) {
	rr := serve(NewRouter(), http.MethodGet, "/api/v2/orders", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != errorNotFoundCode {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestNewRouterGroupMiddlewaresAreScoped(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(
		WithInternalMiddlewares(tag("internal")),
		WithGroupMiddlewares(GroupAdmin, tag("admin")),
		WithGroupMiddlewares("unknown", tag("unknown")),
		WithInternalRoutes(noContent),
		WithPlanRoutes(noContent),
	)

	if rr := serve(router, http.MethodGet, "/api/v1/internal", nil); rr.Header().Get("X-Group") != "internal" {
		t.Fatalf("expected internal middleware, got %q", rr.Header().Values("X-Group"))
	}
	if rr := serve(router, http.MethodGet, "/api/v1/admin/orders", nil); rr.Header().Get("X-Group") != "admin" {
		t.Fatalf("expected admin middleware, got %q", rr.Header().Values("X-Group"))
	}
	if rr := serve(router, http.MethodGet, "/api/v1/plans", nil); len(rr.Header().Values("X-Group")) != 0 {
		t.Fatalf("plans must not run group middlewares, got %q", rr.Header().Values("X-Group"))
	}
}

func TestNewRouterBasePath(t *testing.T) {
	router := NewRouter(WithBasePath("/v2/"), WithPlanRoutes(noContent))
	if rr := serve(router, http.MethodGet, "/v2/plans", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 under custom base path, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/api/v1/plans", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected default prefix to be gone, got %d", rr.Code)
	}
}

func TestNewRouterCapsRequestBodies(t *testing.T) {
	var readErr error
	router := NewRouter(WithMaxBodyBytes(8), WithOrderRoutes(func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			_, readErr = io.ReadAll(req.Body)
			w.WriteHeader(http.StatusAccepted)
		})
	}))

	serve(router, http.MethodPost, "/api/v1/orders", strings.NewReader(`{"plan_id":"plan_gold"}`))
	if readErr == nil {
		t.Fatalf("expected oversized body to fail reading")
	}
}
