package testrun

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/comparison"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
)

type fakeCapability struct {
	screenshot []byte
	navErr     error

	lastProfile browsercap.SessionProfile
}

func (f *fakeCapability) CreateSession(ctx context.Context, profile browsercap.SessionProfile) (string, error) {
	f.lastProfile = profile
	return "sess1", nil
}
func (f *fakeCapability) CloseSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeCapability) Navigate(ctx context.Context, sessionID, url string) error {
	return f.navErr
}
func (f *fakeCapability) PerformAction(ctx context.Context, sessionID string, action browsercap.Action, selector, value string, opts browsercap.ActionOptions) error {
	return nil
}
func (f *fakeCapability) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error) {
	return f.screenshot, nil
}
func (f *fakeCapability) PageContent(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (f *fakeCapability) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (f *fakeCapability) CurrentTitle(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (f *fakeCapability) Evaluate(ctx context.Context, sessionID, script string, out any) error {
	return nil
}
func (f *fakeCapability) WaitForSelector(ctx context.Context, sessionID, selector string, timeout time.Duration) error {
	return nil
}
func (f *fakeCapability) WaitForNavigation(ctx context.Context, sessionID string, timeout time.Duration) error {
	return nil
}
func (f *fakeCapability) SessionAlive(ctx context.Context, sessionID string) bool { return true }
func (f *fakeCapability) ExtractElementsWithRefs(ctx context.Context, sessionID string) (browsercap.ElementSnapshot, error) {
	return browsercap.ElementSnapshot{}, nil
}

type fakeBlobStore struct {
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{objects: make(map[string][]byte)} }

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

func newService(t *testing.T, shot []byte) (*Service, *store.Store, *fakeBlobStore) {
	t.Helper()
	st := store.New()
	blobs := newFakeBlobStore()
	bls := baseline.New(st)
	cmp := comparison.New(st, blobs, bls, nil)
	cap := &fakeCapability{screenshot: shot}
	return New(st, cap, blobs, cmp, bls, nil), st, blobs
}

func TestStartWithZeroPagesCompletesImmediatelyAsPassed(t *testing.T) {
	svc, _, _ := newService(t, nil)
	project := &domain.Project{ID: "proj1", DefaultViewport: domain.Viewport{Width: 1280, Height: 800}}

	run, err := svc.Start(context.Background(), &domain.TestRun{ProjectID: "proj1"}, nil, nil, project)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != domain.RunPassed {
		t.Fatalf("expected a zero-page run to pass immediately, got %s", run.Status)
	}
	if run.TotalPages != 0 {
		t.Fatalf("expected total_pages 0, got %d", run.TotalPages)
	}
}

func TestStartSeedsFirstBaselineWhenNoneExists(t *testing.T) {
	shot := solidPNG(t, 8, 8, color.RGBA{20, 20, 20, 255})
	svc, st, _ := newService(t, shot)
	project := &domain.Project{ID: "proj1", DefaultViewport: domain.Viewport{Width: 1280, Height: 800}}
	page := &domain.Page{ID: "page1", ProjectID: "proj1", Slug: "home", URLPath: "/", Enabled: true}
	cfg := &domain.BrowserConfig{ID: "cfg1", ProjectID: "proj1", Family: domain.Chromium, Viewport: domain.Viewport{Width: 1280, Height: 800}}

	run, err := svc.Start(context.Background(), &domain.TestRun{ProjectID: "proj1"}, []*domain.Page{page}, []*domain.BrowserConfig{cfg}, project)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.TotalPages != 1 {
		t.Fatalf("expected total_pages 1, got %d", run.TotalPages)
	}
	if !run.Terminal() || run.Status != domain.RunPassed {
		t.Fatalf("expected run to auto-complete as passed once its only capture seeds a baseline, got %+v", run)
	}

	bls := baseline.New(st)
	bl, err := bls.Current("page1", "cfg1", "")
	if err != nil {
		t.Fatalf("expected a seeded baseline, got error: %v", err)
	}
	if bl.ImageKey == "" {
		t.Fatalf("expected the seeded baseline to carry an image key")
	}
}

func TestCaptureUsesBrowserConfigProfileNotJustEffectiveViewport(t *testing.T) {
	shot := solidPNG(t, 8, 8, color.RGBA{20, 20, 20, 255})
	st := store.New()
	blobs := newFakeBlobStore()
	bls := baseline.New(st)
	cmp := comparison.New(st, blobs, bls, nil)
	cap := &fakeCapability{screenshot: shot}
	svc := New(st, cap, blobs, cmp, bls, nil)

	project := &domain.Project{ID: "proj1", DefaultViewport: domain.Viewport{Width: 1280, Height: 800}}
	page := &domain.Page{ID: "page1", ProjectID: "proj1", Slug: "home", URLPath: "/", Enabled: true}
	cfg := &domain.BrowserConfig{
		ID:                "cfg1",
		ProjectID:         "proj1",
		Family:            domain.WebKit,
		Viewport:          domain.Viewport{Width: 375, Height: 812},
		DeviceScaleFactor: 2,
		Mobile:            true,
		Touch:             true,
		UserAgent:         "test-agent/1.0",
	}

	if _, err := svc.Start(context.Background(), &domain.TestRun{ProjectID: "proj1"}, []*domain.Page{page}, []*domain.BrowserConfig{cfg}, project); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := cap.lastProfile
	if got.Family != domain.WebKit || got.Viewport != cfg.Viewport || got.DeviceScaleFactor != 2 || !got.Mobile || !got.Touch || got.UserAgent != "test-agent/1.0" {
		t.Fatalf("expected session profile built from the browser config's own fields (not the project's default viewport), got %+v", got)
	}
}

func TestDisabledPagesAreExcludedFromTotalPages(t *testing.T) {
	shot := solidPNG(t, 8, 8, color.RGBA{5, 5, 5, 255})
	svc, _, _ := newService(t, shot)
	project := &domain.Project{ID: "proj1", DefaultViewport: domain.Viewport{Width: 1280, Height: 800}}
	enabled := &domain.Page{ID: "page1", ProjectID: "proj1", Slug: "home", URLPath: "/", Enabled: true}
	disabled := &domain.Page{ID: "page2", ProjectID: "proj1", Slug: "off", URLPath: "/off", Enabled: false}
	cfg := &domain.BrowserConfig{ID: "cfg1", ProjectID: "proj1", Family: domain.Chromium, Viewport: domain.Viewport{Width: 1280, Height: 800}}

	run, err := svc.Start(context.Background(), &domain.TestRun{ProjectID: "proj1"}, []*domain.Page{enabled, disabled}, []*domain.BrowserConfig{cfg}, project)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.TotalPages != 1 {
		t.Fatalf("expected disabled pages to be excluded from total_pages, got %d", run.TotalPages)
	}
}

func TestCaptureFailureRecordsErrorComparisonAndDoesNotBlockRun(t *testing.T) {
	st := store.New()
	blobs := newFakeBlobStore()
	bls := baseline.New(st)
	cmp := comparison.New(st, blobs, bls, nil)
	cap := &fakeCapability{navErr: domain.NewBrowserError(domain.BrowserNavigationFailed, "navigation failed", nil)}
	svc := New(st, cap, blobs, cmp, bls, nil)

	project := &domain.Project{ID: "proj1", DefaultViewport: domain.Viewport{Width: 1280, Height: 800}}
	page := &domain.Page{ID: "page1", ProjectID: "proj1", Slug: "home", URLPath: "/", Enabled: true}
	cfg := &domain.BrowserConfig{ID: "cfg1", ProjectID: "proj1", Family: domain.Chromium, Viewport: domain.Viewport{Width: 1280, Height: 800}}

	run, err := svc.Start(context.Background(), &domain.TestRun{ProjectID: "proj1"}, []*domain.Page{page}, []*domain.BrowserConfig{cfg}, project)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !run.Terminal() || run.Status != domain.RunError {
		t.Fatalf("expected a capture failure to complete the run as error, got %+v", run)
	}
	if run.ErrorCount != 1 {
		t.Fatalf("expected error_count 1, got %d", run.ErrorCount)
	}

	comparisons := st.ListComparisonsByTestRun(run.ID)
	if len(comparisons) != 1 || comparisons[0].Status != domain.ComparisonError {
		t.Fatalf("expected one error comparison to be recorded, got %+v", comparisons)
	}
}
