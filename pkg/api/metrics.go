package api

import (
	"sort"
	"sync"
	"time"
)

// MetricsTracker keeps per-route request statistics for the /stats endpoint
type MetricsTracker struct {
	metrics map[string]*RouteMetrics
	mu      sync.RWMutex
}

func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		metrics: make(map[string]*RouteMetrics),
	}
}

// Track records one request on route
func (mt *MetricsTracker) Track(route string, success bool, durationMs float64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	m, exists := mt.metrics[route]
	if !exists {
		m = &RouteMetrics{Route: route}
		mt.metrics[route] = m
	}

	m.TotalRequests++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}

	// running average
	m.AverageResponseTime = (m.AverageResponseTime*float64(m.TotalRequests-1) + durationMs) / float64(m.TotalRequests)
	m.LastRequestAt = time.Now().UnixMilli()
}

// GetMetrics returns all routes ordered by name
func (mt *MetricsTracker) GetMetrics() []RouteMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]RouteMetrics, 0, len(mt.metrics))
	for _, m := range mt.metrics {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Route < result[j].Route })
	return result
}
