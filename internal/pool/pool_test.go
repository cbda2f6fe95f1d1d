package pool

import (
	"testing"
	"time"
)

func TestConfigAppliesDefaults(t *testing.T) {
	c := Config{}
	c.applyDefaults()

	d := DefaultConfig()
	if c.MaxWorkers != d.MaxWorkers || c.MinWorkers != d.MinWorkers {
		t.Fatalf("expected zero-value config to take defaults, got %+v", c)
	}
}

func TestConfigClampsMinAboveMax(t *testing.T) {
	c := Config{MaxWorkers: 3, MinWorkers: 10}
	c.applyDefaults()

	if c.MinWorkers != c.MaxWorkers {
		t.Fatalf("expected MinWorkers to clamp to MaxWorkers, got min=%d max=%d", c.MinWorkers, c.MaxWorkers)
	}
}

func TestWorkerStaleByUseCount(t *testing.T) {
	w := &Worker{createdAt: time.Now()}
	w.useCount = 50

	if !w.stale(DefaultConfig().WorkerMaxAge, 50) {
		t.Fatalf("expected worker at use limit to be stale")
	}
	if w.stale(DefaultConfig().WorkerMaxAge, 51) {
		t.Fatalf("expected worker under use limit to not be stale")
	}
}
