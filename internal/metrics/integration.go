package metrics

import (
	"context"
	"time"
)

type ctxKey string

const metricsKey ctxKey = "metrics"

// WithContext attaches a collector to ctx.
func WithContext(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, metricsKey, c)
}

// FromContext extracts the collector attached to ctx, if any.
func FromContext(ctx context.Context) *Collector {
	if v := ctx.Value(metricsKey); v != nil {
		if c, ok := v.(*Collector); ok {
			return c
		}
	}
	return nil
}

// CaptureTimer measures a single capture's wall time against the context's
// collector, recording on Stop regardless of outcome.
type CaptureTimer struct {
	start     time.Time
	collector *Collector
	label     string
}

// StartCaptureTimer begins timing a capture for the given browser config
// label, reading the collector out of ctx.
func StartCaptureTimer(ctx context.Context, browserConfigLabel string) *CaptureTimer {
	return &CaptureTimer{start: time.Now(), collector: FromContext(ctx), label: browserConfigLabel}
}

// Stop records the elapsed duration and outcome, a no-op if no collector was
// present in the originating context.
func (t *CaptureTimer) Stop(err error) time.Duration {
	duration := time.Since(t.start)
	if t.collector != nil {
		t.collector.RecordCapture(duration, t.label, err)
	}
	return duration
}

// PoolHooks adapts a worker pool's lifecycle events onto gauge updates,
// mirroring the queue/session hooks a simpler dispatcher would expose.
type PoolHooks struct {
	collector *Collector
}

// NewPoolHooks wraps collector for worker pool callbacks.
func NewPoolHooks(collector *Collector) *PoolHooks {
	return &PoolHooks{collector: collector}
}

// OnQueueSizeChange records the current pending-job count.
func (h *PoolHooks) OnQueueSizeChange(size int) {
	if h.collector != nil {
		h.collector.SetQueueSize(int64(size))
	}
}

// OnWorkerCountsChange records busy/idle worker counts.
func (h *PoolHooks) OnWorkerCountsChange(busy, idle int) {
	if h.collector != nil {
		h.collector.SetWorkerCounts(int64(busy), int64(idle))
	}
}

// OnSessionCountChange records the current live browser session count.
func (h *PoolHooks) OnSessionCountChange(n int) {
	if h.collector != nil {
		h.collector.SetActiveSessions(int64(n))
	}
}
