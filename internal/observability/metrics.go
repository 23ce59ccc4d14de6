// Package observability exposes the process-wide Prometheus metrics of the honeypot.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "honeypot"

type moduleMetrics struct {
	turnsTotal          *prometheus.CounterVec
	turnDuration        prometheus.Histogram
	replyRuleTotal      *prometheus.CounterVec
	indicatorsExtracted *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	transcriptCompacted prometheus.Counter

	callbackDeliveries *prometheus.CounterVec
	callbackDuration   prometheus.Histogram

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Processed inbound turns by resolved scam type and verdict.",
				},
				[]string{"scam_type", "is_scam"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Turn processing duration in seconds.",
					Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
				},
			),
			replyRuleTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "reply_rule_total",
					Help:      "Engagement replies by the rule that produced them.",
				},
				[]string{"rule"},
			),
			indicatorsExtracted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "indicators_extracted_total",
					Help:      "Indicators extracted from inbound turns by category.",
				},
				[]string{"category"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Conversations held in the session store.",
				},
			),
			transcriptCompacted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "transcript_compactions_total",
					Help:      "Transcript compactions performed by the session store.",
				},
			),
			callbackDeliveries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "callback_deliveries_total",
					Help:      "Intelligence report deliveries by outcome.",
				},
				[]string{"status"},
			),
			callbackDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "callback_duration_seconds",
					Help:      "Intelligence report delivery duration in seconds, retries included.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "dispatch_queue_size",
					Help:      "Current dispatch backlog by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dispatch_enqueue_total",
					Help:      "Dispatch submissions by lane and outcome.",
				},
				[]string{"lane", "status"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dispatch_tasks_total",
					Help:      "Completed dispatch tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "dispatch_task_duration_seconds",
					Help:      "Dispatch task execution duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.turnsTotal,
			m.turnDuration,
			m.replyRuleTotal,
			m.indicatorsExtracted,
			m.activeSessions,
			m.transcriptCompacted,
			m.callbackDeliveries,
			m.callbackDuration,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.httpRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(scamType string, isScam bool, rule string, duration time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(scamType, strconv.FormatBool(isScam)).Inc()
	m.replyRuleTotal.WithLabelValues(rule).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// RecordIndicators adds per-category counts of newly extracted indicators.
func RecordIndicators(byCategory map[string]int) {
	m := getMetrics()
	for category, n := range byCategory {
		if n > 0 {
			m.indicatorsExtracted.WithLabelValues(category).Add(float64(n))
		}
	}
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordCompaction() {
	getMetrics().transcriptCompacted.Inc()
}

// RecordCallback records one intelligence delivery. status is "delivered",
// "failed" or "dropped".
func RecordCallback(status string, duration time.Duration) {
	m := getMetrics()
	m.callbackDeliveries.WithLabelValues(status).Inc()
	if duration > 0 {
		m.callbackDuration.Observe(duration.Seconds())
	}
}

func RecordQueueEnqueue(lane string, accepted bool, queueSize int) {
	m := getMetrics()
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.enqueueTotal.WithLabelValues(lane, status).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
