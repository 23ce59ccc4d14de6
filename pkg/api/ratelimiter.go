package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-IP rate limiting with a one minute sliding window
type RateLimiter struct {
	limits            map[string]*RateLimitState
	maxRequestsPerMin int
	mu                sync.RWMutex
	cleanupInterval   time.Duration
	stopCleanup       chan struct{}
	stopOnce          sync.Once
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter. A limit of zero or less disables it.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:            make(map[string]*RateLimitState),
		maxRequestsPerMin: maxRequestsPerMinute,
		cleanupInterval:   5 * time.Minute,
		stopCleanup:       make(chan struct{}),
		now:               time.Now,
	}

	go rl.startCleanup()

	return rl
}

// CheckLimit records a request from ip and reports whether it is allowed
func (rl *RateLimiter) CheckLimit(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.maxRequestsPerMin <= 0 {
		return true
	}

	now := rl.now().UnixMilli()

	state, exists := rl.limits[ip]
	if !exists {
		state = &RateLimitState{Requests: make([]int64, 0)}
		rl.limits[ip] = state
	}

	state.Requests = pruneWindow(state.Requests, now)

	if len(state.Requests) >= rl.maxRequestsPerMin {
		return false
	}

	state.Requests = append(state.Requests, now)
	return true
}

// SetLimit changes the per-minute limit for subsequent requests
func (rl *RateLimiter) SetLimit(maxRequestsPerMinute int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.maxRequestsPerMin = maxRequestsPerMinute
}

// GetRetryAfter returns the number of seconds until ip may send again
func (rl *RateLimiter) GetRetryAfter(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	state, exists := rl.limits[ip]
	if !exists || len(state.Requests) == 0 {
		return 0
	}

	now := rl.now().UnixMilli()
	retryAfterMs := 60000 - (now - state.Requests[0])
	if retryAfterMs < 0 {
		return 0
	}

	// round up
	return int((retryAfterMs + 999) / 1000)
}

func pruneWindow(requests []int64, now int64) []int64 {
	valid := make([]int64, 0, len(requests))
	for _, t := range requests {
		if now-t < 60000 {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now().UnixMilli()
	for ip, state := range rl.limits {
		valid := pruneWindow(state.Requests, now)
		if len(valid) == 0 {
			delete(rl.limits, ip)
		} else {
			state.Requests = valid
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
