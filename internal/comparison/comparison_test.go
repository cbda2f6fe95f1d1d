package comparison

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
)

type fakeBlobStore struct {
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.NewNotFoundError("no such key: "+key, nil)
	}
	return data, nil
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.objects[key] = data
	return "https://blobs.test/" + key, nil
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestRunPassesWithinThreshold(t *testing.T) {
	s := store.New()
	blobs := newFakeBlobStore()
	blobs.objects["baseline.png"] = solidPNG(t, 10, 10, color.RGBA{10, 10, 10, 255})
	blobs.objects["snapshot.png"] = solidPNG(t, 10, 10, color.RGBA{10, 10, 10, 255})

	engine := New(s, blobs, baseline.New(s), nil)

	run := s.CreateTestRun(&domain.TestRun{ProjectID: "proj1", TotalPages: 1, PendingCount: 1})
	bl := &domain.Baseline{ImageKey: "baseline.png"}
	snap := s.CreateSnapshot(&domain.Snapshot{ImageKey: "snapshot.png", TestRunID: run.ID})

	cmp, err := engine.Run(context.Background(), bl, snap, 0.05)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cmp.Status != domain.ComparisonPassed {
		t.Fatalf("expected passed comparison, got %s", cmp.Status)
	}

	reloadedRun, err := s.GetTestRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !reloadedRun.Terminal() || reloadedRun.Status != domain.RunPassed {
		t.Fatalf("expected run to auto-complete as passed, got %+v", reloadedRun)
	}
}

func TestRunFailsBeyondThresholdAndSetsPendingReview(t *testing.T) {
	s := store.New()
	blobs := newFakeBlobStore()
	blobs.objects["baseline.png"] = solidPNG(t, 10, 10, color.RGBA{0, 0, 0, 255})
	blobs.objects["snapshot.png"] = solidPNG(t, 10, 10, color.RGBA{255, 255, 255, 255})

	engine := New(s, blobs, baseline.New(s), nil)

	run := s.CreateTestRun(&domain.TestRun{ProjectID: "proj1", TotalPages: 1, PendingCount: 1})
	bl := &domain.Baseline{ImageKey: "baseline.png"}
	snap := s.CreateSnapshot(&domain.Snapshot{ImageKey: "snapshot.png", TestRunID: run.ID})

	cmp, err := engine.Run(context.Background(), bl, snap, 0.05)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cmp.Status != domain.ComparisonFailed {
		t.Fatalf("expected failed comparison, got %s", cmp.Status)
	}
	if cmp.ReviewStatus == nil || *cmp.ReviewStatus != domain.ReviewPending {
		t.Fatalf("expected review_status pending on a failed comparison")
	}
	if cmp.DiffImageKey == "" {
		t.Fatalf("expected a diff overlay to be stored for a non-zero diff")
	}
}

func TestApprovePromotesSnapshotAndAdjustsCounters(t *testing.T) {
	s := store.New()
	blobs := newFakeBlobStore()
	blobs.objects["baseline.png"] = solidPNG(t, 4, 4, color.RGBA{0, 0, 0, 255})
	blobs.objects["snapshot.png"] = solidPNG(t, 4, 4, color.RGBA{255, 255, 255, 255})

	bls := baseline.New(s)
	engine := New(s, blobs, bls, nil)

	run := s.CreateTestRun(&domain.TestRun{ProjectID: "proj1", TotalPages: 1, PendingCount: 1})
	bl := &domain.Baseline{PageID: "page1", BrowserConfigID: "cfg1", Branch: "main", ImageKey: "baseline.png"}
	snap := s.CreateSnapshot(&domain.Snapshot{PageID: "page1", BrowserConfigID: "cfg1", Branch: "main", ImageKey: "snapshot.png", TestRunID: run.ID})

	cmp, err := engine.Run(context.Background(), bl, snap, 0.05)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	approved, err := engine.Approve(context.Background(), cmp.ID, "reviewer@example.com", "fine", true)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if *approved.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("expected approved review status")
	}

	current, err := bls.Current("page1", "cfg1", "main")
	if err != nil {
		t.Fatalf("current baseline: %v", err)
	}
	if current.ImageKey != "snapshot.png" {
		t.Fatalf("expected the snapshot's image to become the new baseline, got %s", current.ImageKey)
	}

	reloadedRun, err := s.GetTestRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if reloadedRun.PassedCount != 1 || reloadedRun.FailedCount != 0 {
		t.Fatalf("expected approval to move one unit from failed to passed, got %+v", reloadedRun)
	}
}
