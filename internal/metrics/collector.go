// Package metrics provides Prometheus-compatible metrics collection for the
// visual-regression engine: capture throughput, comparison outcomes, worker
// pool saturation and AI task execution.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace for all metrics.
const namespace = "visionengine"

// Collector holds all application metrics with Prometheus compatibility.
type Collector struct {
	// Capture metrics
	CapturesTotal   prometheus.Counter
	CaptureDuration prometheus.Histogram
	CaptureErrors   *prometheus.CounterVec // by browser config label

	// Comparison metrics
	ComparisonsTotal *prometheus.CounterVec // by outcome (passed/failed/error)
	DiffPercent      prometheus.Histogram
	ComparisonTime   prometheus.Histogram

	// Worker pool / concurrency
	ActiveSessions prometheus.Gauge
	QueueSize      prometheus.Gauge
	WorkerBusy     prometheus.Gauge
	WorkerIdle     prometheus.Gauge

	// Test run metrics
	RunsActive      prometheus.Gauge
	RunDuration     prometheus.Histogram
	RunRatePerMin   prometheus.Gauge
	runsPerMin      *RateCalculator

	// AI task metrics
	AITasksTotal    *prometheus.CounterVec // by terminal status
	AITaskSteps     prometheus.Histogram
	AITaskTokens    *prometheus.CounterVec // by token kind (input/output)

	// Action cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	mu              sync.RWMutex
	startTime       time.Time
	captureCount    int64
	comparisonCount int64
	passedCount     int64
	failedCount     int64
	errorCount      int64
}

// RateCalculator computes a sliding-window rate, mirroring the hit-rate
// calculator a simpler request-driven system would use for traffic.
type RateCalculator struct {
	mu     sync.Mutex
	events []time.Time
	window time.Duration
	stopCh chan struct{}
}

// NewRateCalculator creates a rate calculator over the given window.
func NewRateCalculator(window time.Duration) *RateCalculator {
	rc := &RateCalculator{
		events: make([]time.Time, 0, 256),
		window: window,
		stopCh: make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Record records one event occurrence now.
func (rc *RateCalculator) Record() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.events = append(rc.events, time.Now())
}

// GetRate returns events per minute over the configured window.
func (rc *RateCalculator) GetRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup(time.Now())
	return float64(len(rc.events)) * (60.0 / rc.window.Seconds())
}

func (rc *RateCalculator) cleanup(now time.Time) {
	cutoff := now.Add(-rc.window)
	idx := 0
	for i, t := range rc.events {
		if t.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	rc.events = rc.events[idx:]
}

func (rc *RateCalculator) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.mu.Lock()
			rc.cleanup(time.Now())
			rc.mu.Unlock()
		case <-rc.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup loop.
func (rc *RateCalculator) Stop() { close(rc.stopCh) }

// New creates and registers a full metrics collector.
func New() *Collector {
	c := &Collector{
		startTime:  time.Now(),
		runsPerMin: NewRateCalculator(time.Minute),
	}

	c.CapturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "captures_total", Help: "Total number of snapshot captures attempted",
	})
	c.CaptureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "capture_duration_seconds", Help: "Capture wall time", Buckets: prometheus.DefBuckets,
	})
	c.CaptureErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "capture_errors_total", Help: "Capture failures by browser config",
	}, []string{"browser_config"})

	c.ComparisonsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "comparisons_total", Help: "Completed comparisons by outcome",
	}, []string{"outcome"})
	c.DiffPercent = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "comparison_diff_percent", Help: "Distribution of diff percentages",
		Buckets: []float64{0, .01, .05, .1, .5, 1, 2, 5, 10, 25, 50, 100},
	})
	c.ComparisonTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "comparison_duration_seconds", Help: "Pixel-diff computation wall time", Buckets: prometheus.DefBuckets,
	})

	c.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_browser_sessions", Help: "Number of live browser sessions",
	})
	c.QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "job_queue_size", Help: "Pending capture/comparison jobs",
	})
	c.WorkerBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "worker_pool_busy", Help: "Workers currently executing a job",
	})
	c.WorkerIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "worker_pool_idle", Help: "Workers currently idle",
	})

	c.RunsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "test_runs_active", Help: "Test runs currently executing",
	})
	c.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "test_run_duration_seconds", Help: "End-to-end test run wall time",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	c.RunRatePerMin = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "test_run_rate_per_minute", Help: "Test runs completed per minute",
	})

	c.AITasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "ai_tasks_total", Help: "AI tasks by terminal status",
	}, []string{"status"})
	c.AITaskSteps = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "ai_task_steps", Help: "Steps executed per AI task",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50},
	})
	c.AITaskTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "ai_task_tokens_total", Help: "LLM tokens consumed by AI tasks",
	}, []string{"kind"})

	c.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "action_cache_hits_total", Help: "Action cache lookups that returned a reliable entry",
	})
	c.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "action_cache_misses_total", Help: "Action cache lookups that found nothing usable",
	})

	c.register()
	go c.updateLoop()
	return c
}

func (c *Collector) register() {
	prometheus.MustRegister(
		c.CapturesTotal, c.CaptureDuration, c.CaptureErrors,
		c.ComparisonsTotal, c.DiffPercent, c.ComparisonTime,
		c.ActiveSessions, c.QueueSize, c.WorkerBusy, c.WorkerIdle,
		c.RunsActive, c.RunDuration, c.RunRatePerMin,
		c.AITasksTotal, c.AITaskSteps, c.AITaskTokens,
		c.CacheHits, c.CacheMisses,
	)
}

func (c *Collector) updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		c.RunRatePerMin.Set(c.runsPerMin.GetRate())
	}
}

// RecordCapture records a capture attempt's duration and outcome.
func (c *Collector) RecordCapture(duration time.Duration, browserConfigLabel string, err error) {
	c.CapturesTotal.Inc()
	c.CaptureDuration.Observe(duration.Seconds())
	c.mu.Lock()
	c.captureCount++
	c.mu.Unlock()
	if err != nil {
		c.CaptureErrors.WithLabelValues(browserConfigLabel).Inc()
	}
}

// RecordComparison records a completed comparison's outcome and timing.
func (c *Collector) RecordComparison(outcome string, diffPercent float64, duration time.Duration) {
	c.ComparisonsTotal.WithLabelValues(outcome).Inc()
	c.DiffPercent.Observe(diffPercent)
	c.ComparisonTime.Observe(duration.Seconds())
	c.mu.Lock()
	c.comparisonCount++
	switch outcome {
	case "passed":
		c.passedCount++
	case "failed":
		c.failedCount++
	case "error":
		c.errorCount++
	}
	c.mu.Unlock()
}

// RecordRunCompletion records a finished test run for rate tracking.
func (c *Collector) RecordRunCompletion(duration time.Duration) {
	c.RunDuration.Observe(duration.Seconds())
	c.runsPerMin.Record()
}

// RecordAITaskCompletion records an AI task's terminal status, step count and
// token usage.
func (c *Collector) RecordAITaskCompletion(status string, steps int, inputTokens, outputTokens int64) {
	c.AITasksTotal.WithLabelValues(status).Inc()
	c.AITaskSteps.Observe(float64(steps))
	c.AITaskTokens.WithLabelValues("input").Add(float64(inputTokens))
	c.AITaskTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordCacheLookup records whether an action cache lookup hit or missed.
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
}

// SetActiveSessions sets the current live browser session gauge.
func (c *Collector) SetActiveSessions(n int64) { c.ActiveSessions.Set(float64(n)) }

// SetQueueSize sets the current pending job gauge.
func (c *Collector) SetQueueSize(n int64) { c.QueueSize.Set(float64(n)) }

// SetWorkerCounts sets the worker pool's busy/idle gauges.
func (c *Collector) SetWorkerCounts(busy, idle int64) {
	c.WorkerBusy.Set(float64(busy))
	c.WorkerIdle.Set(float64(idle))
}

// SetActiveRuns sets the currently-executing test run gauge.
func (c *Collector) SetActiveRuns(n int64) { c.RunsActive.Set(float64(n)) }

// Snapshot is a point-in-time view of the collector's internal counters, for
// the JSON status endpoint.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	CaptureCount    int64     `json:"capture_count"`
	ComparisonCount int64     `json:"comparison_count"`
	PassedCount     int64     `json:"passed_count"`
	FailedCount     int64     `json:"failed_count"`
	ErrorCount      int64     `json:"error_count"`
	RunRatePerMin   float64   `json:"run_rate_per_min"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
}

// GetSnapshot returns the current metrics snapshot.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Timestamp:       time.Now(),
		CaptureCount:    c.captureCount,
		ComparisonCount: c.comparisonCount,
		PassedCount:     c.passedCount,
		FailedCount:     c.failedCount,
		ErrorCount:      c.errorCount,
		RunRatePerMin:   c.runsPerMin.GetRate(),
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
	}
}

// MetricsHandler returns the Prometheus scrape handler.
func (c *Collector) MetricsHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns metrics in JSON format for the dashboard.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.GetSnapshot())
	}
}
