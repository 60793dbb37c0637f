package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("visitor") || !rl.Allow("visitor") {
		t.Fatal("Expected first two requests to be allowed")
	}
	if rl.Allow("visitor") {
		t.Error("Expected third request to be rejected")
	}
	if !rl.Allow("other") {
		t.Error("Expected another visitor to have its own budget")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("visitor") {
		t.Fatal("Expected first request to be allowed")
	}
	if rl.Allow("visitor") {
		t.Fatal("Expected second request inside the window to be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("visitor") {
		t.Error("Expected request after the window to be allowed")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)
	defer rl.Stop()

	rl.Allow("visitor")
	time.Sleep(15 * time.Millisecond)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["visitor"]; ok {
		t.Error("Expected idle key to be evicted")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		if !rl.Allow("visitor") {
			t.Fatalf("Expected disabled limiter to allow request %d", i)
		}
	}
}
