package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axon-embed/axon/internal/logging"
)

// TestRateLimiter_AllowsWithinBurst verifies requests within the configured
// burst all pass through.
func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 3, logging.New())
	defer stop()

	h := rl.middleware(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", nil)
		req.RemoteAddr = "203.0.113.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimiter_RejectsOverBurst verifies a request beyond the burst
// receives 429 with a Retry-After header.
func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, logging.New())
	defer stop()

	h := rl.middleware(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", nil)
	req.RemoteAddr = "203.0.113.2:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

// TestRateLimiter_PerIPIsolation verifies one IP's limit does not affect
// another's.
func TestRateLimiter_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, logging.New())
	defer stop()

	h := rl.middleware(okHandler)

	req1 := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", nil)
	req1.RemoteAddr = "203.0.113.3:1111"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200 for first IP, got %d", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", nil)
	req2.RemoteAddr = "203.0.113.4:2222"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for second IP, got %d", w2.Code)
	}
}

// TestClientIP verifies host:port stripping.
func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want string
	}{
		{"203.0.113.1:5555", "203.0.113.1"},
		{"[::1]:8080", "[::1]"},
		{"no-port", "no-port"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.addr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
