package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(rate, capacity float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(rate, capacity)
	rl.now = clock.now
	return rl, clock
}

func TestAllowBurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(0.5, 5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other client denied")
	}

	clock.t = clock.t.Add(2 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("request denied after refill")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("refill granted more than one token")
	}
}

func TestEvictIdle(t *testing.T) {
	rl, clock := newTestLimiter(1, 1)
	rl.Allow("a")
	clock.t = clock.t.Add(time.Minute)
	rl.Allow("b")

	clock.t = clock.t.Add(30 * time.Second)
	rl.evictIdle(time.Minute)

	if _, ok := rl.visitors["a"]; ok {
		t.Error("idle visitor a not evicted")
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("active visitor b evicted")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	rl, _ := newTestLimiter(0, 1)
	h := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [204 429]", codes)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, fwd, want string
	}{
		{"10.0.0.1:5555", "", "10.0.0.1"},
		{"[::1]:5555", "", "::1"},
		{"10.0.0.1:5555", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"pipe", "", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.fwd != "" {
			req.Header.Set("X-Forwarded-For", tt.fwd)
		}
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q, %q) = %q, want %q", tt.remote, tt.fwd, got, tt.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS([]string{"*"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/run", nil))

	if rec.Code != http.StatusOK || called {
		t.Errorf("preflight: code=%d called=%v, want 200 without calling next", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := CORS([]string{"https://app.example"}, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for a foreign origin, want empty", got)
	}

	if !OriginAllowed([]string{"https://app.example"}, "https://app.example") || OriginAllowed([]string{"https://app.example"}, "https://evil.example") {
		t.Error("OriginAllowed mismatch")
	}
}
