package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucketAt(5, 1, clock.Now)

	for i := 0; i < 5; i++ {
		if !bucket.allow() {
			t.Errorf("Request %d should be allowed (burst)", i+1)
		}
	}
	if bucket.allow() {
		t.Error("6th request should be denied")
	}

	clock.Advance(1100 * time.Millisecond)
	if !bucket.allow() {
		t.Error("Request after refill should be allowed")
	}
	if bucket.allow() {
		t.Error("Request should be denied after using refilled token")
	}
}

func TestTokenBucket_Remaining(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucketAt(10, 1, clock.Now)

	if remaining := bucket.remaining(); remaining != 10 {
		t.Errorf("Expected 10 remaining tokens, got %d", remaining)
	}
	for i := 0; i < 3; i++ {
		bucket.allow()
	}
	if remaining := bucket.remaining(); remaining != 7 {
		t.Errorf("Expected 7 remaining tokens, got %d", remaining)
	}

	clock.Advance(time.Hour)
	if remaining := bucket.remaining(); remaining != 10 {
		t.Errorf("Refill should stop at capacity, got %d", remaining)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucketAt(10, 2, clock.Now)

	if reset := bucket.reset(); !reset.Equal(clock.Now()) {
		t.Errorf("Full bucket should reset now, got %v", reset)
	}

	for i := 0; i < 4; i++ {
		bucket.allow()
	}
	want := clock.Now().Add(2 * time.Second)
	if reset := bucket.reset(); !reset.Equal(want) {
		t.Errorf("Expected reset at %v, got %v", want, reset)
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	bucket := newTokenBucketAt(100, 0, newFakeClock().Now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed requests, got %d", allowed)
	}
}

func newTestLimiter(t *testing.T, cfg RateLimiterConfig, clock *fakeClock) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg)
	rl.now = clock.Now
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2}, newFakeClock())

	for i := 0; i < 2; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("IP1 request %d should be allowed", i+1)
		}
	}
	if rl.Allow("192.168.1.1") {
		t.Error("IP1 should be rate limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Error("IP2 should have its own bucket")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 3}, newFakeClock())

	limitedHandler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		limitedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected status 200, got %d", i+1, w.Code)
		}
		if limit := w.Header().Get("X-RateLimit-Limit"); limit != "60" {
			t.Errorf("Request %d: expected X-RateLimit-Limit=60, got %s", i+1, limit)
		}
		if want := fmt.Sprint(2 - i); w.Header().Get("X-RateLimit-Remaining") != want {
			t.Errorf("Request %d: expected X-RateLimit-Remaining=%s, got %s",
				i+1, want, w.Header().Get("X-RateLimit-Remaining"))
		}
		if w.Header().Get("X-RateLimit-Reset") == "" {
			t.Errorf("Request %d: X-RateLimit-Reset header missing", i+1)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	limitedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be present when rate limited")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type=application/json, got %s", ct)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		realIP       string
		expectedIP   string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"forwarded for", "10.0.0.1:12345", "203.0.113.1", "", "203.0.113.1"},
		{"forwarded chain", "10.0.0.1:12345", "203.0.113.1, 198.51.100.1", "", "203.0.113.1"},
		{"real ip", "10.0.0.1:12345", "", "203.0.113.5", "203.0.113.5"},
		{"invalid forwarded falls back", "10.0.0.1:12345", "not-an-ip", "", "10.0.0.1"},
		{"ipv6", "[2001:db8::1]:8080", "", "", "2001:db8::1"},
		{"garbage", "garbage", "", "", "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tc.forwardedFor)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if ip := getClientIP(req); ip != tc.expectedIP {
				t.Errorf("Expected IP %s, got %s", tc.expectedIP, ip)
			}
		})
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 10}, clock)

	rl.Allow("192.168.1.1")
	clock.Advance(3 * time.Minute)
	rl.Allow("192.168.1.2")
	clock.Advance(3 * time.Minute)

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if _, ok := rl.buckets["192.168.1.1"]; ok {
		t.Error("idle bucket should be removed")
	}
	if _, ok := rl.buckets["192.168.1.2"]; !ok {
		t.Error("recent bucket should be kept")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 6000, BurstSize: 100}, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := fmt.Sprintf("192.168.1.%d", n)
			for j := 0; j < 50; j++ {
				rl.Allow(ip)
			}
		}(i)
	}
	wg.Wait()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if len(rl.buckets) != 10 {
		t.Errorf("Expected 10 buckets, got %d", len(rl.buckets))
	}
}

func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1000000, BurstSize: 1000000})
	defer rl.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow("192.168.1.1")
	}
}

func BenchmarkRateLimiter_Middleware(b *testing.B) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1000000, BurstSize: 1000000})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
