package dispatch

import (
	"context"
	"sync"
	"time"
)

// dedupCache remembers task keys for a bounded time.
type dedupCache struct {
	entries map[string]time.Time
	ttl     time.Duration
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

func (dc *dedupCache) Stop() {
	if dc.cancel != nil {
		dc.cancel()
	}
}

// Claim records key and reports whether it was not already present.
func (dc *dedupCache) Claim(key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if seen, ok := dc.entries[key]; ok && time.Since(seen) <= dc.ttl {
		return false
	}
	dc.entries[key] = time.Now()
	return true
}

// Release forgets key so a later submission can claim it again.
func (dc *dedupCache) Release(key string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	delete(dc.entries, key)
}

func (dc *dedupCache) cleanup() {
	defer close(dc.done)

	interval := dc.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for key, seen := range dc.entries {
				if now.Sub(seen) > dc.ttl {
					delete(dc.entries, key)
				}
			}
			dc.mu.Unlock()
		}
	}
}

func (dc *dedupCache) Size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.entries)
}
