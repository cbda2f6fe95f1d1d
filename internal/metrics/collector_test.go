package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// New registers with the default Prometheus registry, which panics on a
// second registration of the same metric names — so every test in this
// package shares one collector instance.
var (
	testCollector     *Collector
	testCollectorOnce sync.Once
)

func sharedCollector() *Collector {
	testCollectorOnce.Do(func() { testCollector = New() })
	return testCollector
}

func TestCollectorRecordsCaptureAndComparison(t *testing.T) {
	c := sharedCollector()

	before := c.GetSnapshot()
	c.RecordCapture(50*time.Millisecond, "chrome:1920x1080", nil)
	c.RecordCapture(10*time.Millisecond, "chrome:1920x1080", errTest)
	c.RecordComparison("passed", 0.02, 5*time.Millisecond)
	c.RecordComparison("failed", 3.5, 8*time.Millisecond)
	c.RecordRunCompletion(2 * time.Second)
	c.RecordAITaskCompletion("completed", 7, 1200, 340)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)

	after := c.GetSnapshot()
	if after.CaptureCount != before.CaptureCount+2 {
		t.Fatalf("expected 2 new captures recorded, got %d -> %d", before.CaptureCount, after.CaptureCount)
	}
	if after.ComparisonCount != before.ComparisonCount+2 {
		t.Fatalf("expected 2 new comparisons recorded, got %d -> %d", before.ComparisonCount, after.ComparisonCount)
	}
	if after.PassedCount != before.PassedCount+1 || after.FailedCount != before.FailedCount+1 {
		t.Fatalf("expected 1 new passed and 1 new failed, got %+v -> %+v", before, after)
	}
}

func TestCollectorJSONHandler(t *testing.T) {
	c := sharedCollector()
	before := c.GetSnapshot()
	c.RecordCapture(time.Millisecond, "firefox:1280x720", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics/json", nil)
	c.JSONHandler()(rec, req)

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.CaptureCount != before.CaptureCount+1 {
		t.Fatalf("expected JSON snapshot to reflect recorded capture, got %+v", snap)
	}
}

func TestRateCalculatorComputesRate(t *testing.T) {
	rc := NewRateCalculator(time.Minute)
	defer rc.Stop()

	rc.Record()
	rc.Record()
	rc.Record()

	rate := rc.GetRate()
	if rate <= 0 {
		t.Fatalf("expected positive rate after recording events, got %v", rate)
	}
}

var errTest = &collectorTestError{"boom"}

type collectorTestError struct{ msg string }

func (e *collectorTestError) Error() string { return e.msg }
