package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedRateLimiterRefillsOverTime(t *testing.T) {
	now := testNow
	limiter := newRateLimiter(60, 2, func() time.Time { return now })

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatalf("expected burst of two to be allowed")
	}
	if limiter.Allow("user-1") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("user-2") {
		t.Fatalf("expected independent bucket for another caller")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("user-1") {
		t.Fatalf("expected a token after one second")
	}
}

func TestNewRateLimiterDisabled(t *testing.T) {
	if limiter := newRateLimiter(0, 5, nil); limiter != nil {
		t.Fatalf("expected nil limiter when perMinute is zero")
	}
}

func TestRateLimitMiddlewareKeysByClientAddress(t *testing.T) {
	now := testNow
	handler := RateLimitMiddleware(1, func() time.Time { return now })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send(""); code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be limited, got %d", code)
	}
	if code := send("203.0.113.9, 10.0.0.1"); code != http.StatusNoContent {
		t.Fatalf("expected forwarded client to have its own bucket, got %d", code)
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	called := 0
	handler := RateLimitMiddleware(0, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ }))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if called != 5 {
		t.Fatalf("expected all requests through, got %d", called)
	}
}
