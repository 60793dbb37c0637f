package api

import (
	"sync"
	"time"
)

// RateLimiter implements a per-visitor sliding-window rate limiter.
// The key is the visitor ID, not the session ID, so a visitor cannot bypass
// throttling by starting new sessions.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction
// goroutine. A non-positive limit or window disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	if rl.enabled() {
		rl.startEviction()
	}
	return rl
}

func (r *RateLimiter) enabled() bool {
	return r.limit > 0 && r.window > 0
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := pruneBefore(r.requests[key], now.Add(-r.window))

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// startEviction periodically removes expired keys from the requests map,
// preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evict()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for key, times := range r.requests {
		fresh := pruneBefore(times, cutoff)
		if len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	var fresh []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
