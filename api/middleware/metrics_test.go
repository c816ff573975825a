package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type observed struct {
	method string
	route  string
	status int
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (f *fakeObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, observed{method: method, route: route, status: status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	obs := &fakeObserver{}
	r := chi.NewRouter()
	r.Use(Metrics(obs))
	r.Get("/api/v1/payments/status/{paymentId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/8a6e0804-2bd0-4672-b79d-d97027f9071a", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(obs.seen) != 1 {
		t.Fatalf("expected one observation, got %d", len(obs.seen))
	}
	got := obs.seen[0]
	if got.route != "/api/v1/payments/status/{paymentId}" {
		t.Fatalf("expected route pattern, got %q", got.route)
	}
	if got.status != http.StatusNotFound || got.method != http.MethodGet {
		t.Fatalf("unexpected observation %+v", got)
	}
}

func TestMetricsDefaultsStatusToOK(t *testing.T) {
	obs := &fakeObserver{}
	handler := Metrics(obs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if len(obs.seen) != 1 || obs.seen[0].status != http.StatusOK {
		t.Fatalf("unexpected observations %+v", obs.seen)
	}
}
