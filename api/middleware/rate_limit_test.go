package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

func TestRateLimit_AllowsUnderLimitAndPreservesBody(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("process", time.Minute, 2, 2)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"paymentId":"p-1"`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/process", strings.NewReader(`{"paymentId":"p-1","customerCard":{}}`))
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_PaymentLimitTriggers(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("process", time.Minute, 0, 2)
	handler := RateLimit(policy, store, nil)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/process", strings.NewReader(`{"paymentId":"P-1"}`))
		// distinct callers share the per-payment budget
		req.RemoteAddr = "10.0.0." + string(rune('1'+i)) + ":5678"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		switch {
		case i < 2 && rec.Code != http.StatusOK:
			t.Fatalf("expected success before limit, got %d", rec.Code)
		case i >= 2:
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			if rec.Header().Get("Retry-After") != "60" {
				t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
			}
			var payload struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected code: %s", payload.Error.Code)
			}
		}
	}
	if store.counts["rl:payment:process:p-1"] != 3 {
		t.Fatalf("expected payment id to be normalized into one key, got %v", store.counts)
	}
}

func TestRateLimit_IPLimitTriggers(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("create-link", time.Minute, 1, 0)
	handler := RateLimit(policy, store, nil)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/create-link", strings.NewReader(`{"amount":25}`))
		req.RemoteAddr = "5.6.7.8:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("expected success, got %d", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
	}
}

func TestRateLimit_ForwardedForWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "5.6.7.8:1234"
	req.Header.Set("X-Forwarded-For", " 9.9.9.9 , 10.0.0.1")
	if ip := clientIP(req); ip != "9.9.9.9" {
		t.Fatalf("expected 9.9.9.9 got %s", ip)
	}
}

func TestRateLimit_StoreFailureIsDependencyError(t *testing.T) {
	policy := NewRateLimitPolicy("process", time.Minute, 5, 0)
	handler := RateLimit(policy, failingRateStore{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/process", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimit_DisabledPolicyIsPassThrough(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(NewRateLimitPolicy("off", 0, 1, 1), store, nil)(okHandler())
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"paymentId":"p"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if len(store.counts) != 0 {
		t.Fatalf("expected no counters, got %v", store.counts)
	}
}

func TestRateLimit_ChargesIPBeforePayment(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy(" Process ", 500*time.Millisecond, 1, 5)
	handler := RateLimit(policy, store, nil)(okHandler())

	var last *httptest.ResponseRecorder
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"paymentId":"p-9"}`))
		req.Header.Set("X-Real-IP", "7.7.7.7")
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if got := last.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected sub-second window to round up to 1, got %q", got)
	}
	if store.counts["rl:ip:process:7.7.7.7"] != 2 {
		t.Fatalf("unexpected ip counter: %v", store.counts)
	}
	if store.counts["rl:payment:process:p-9"] != 1 {
		t.Fatalf("blocked request must not charge the payment budget: %v", store.counts)
	}
}

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

type failingRateStore struct{}

func (failingRateStore) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}
