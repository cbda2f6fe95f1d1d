package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/comparison"
	"github.com/brainzlab/vision/internal/config"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/metrics"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/internal/testrun"
	"github.com/brainzlab/vision/pkg/logger"

	"golang.org/x/time/rate"
)

// fakeCapability is a minimal browsercap.Capability for handler tests that
// need a capture to actually "run" rather than hit a nil pointer.
type fakeCapability struct {
	screenshot []byte
}

func (f *fakeCapability) CreateSession(ctx context.Context, profile browsercap.SessionProfile) (string, error) {
	return "sess1", nil
}
func (f *fakeCapability) CloseSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeCapability) Navigate(ctx context.Context, sessionID, url string) error { return nil }
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

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.NewNotFoundError("no such key: "+key, nil)
	}
	return data, nil
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
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

func newStrictLimiterForTest() *rate.Limiter {
	return rate.NewLimiter(0, 1)
}

// metrics.New registers against the default Prometheus registry, which
// panics on a second registration of the same metric names, so every test
// in this package shares one collector.
var (
	sharedMetrics     *metrics.Collector
	sharedMetricsOnce sync.Once
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	sharedMetricsOnce.Do(func() { sharedMetrics = metrics.New() })

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	st := store.New()
	log := logger.NewDefault()
	baselines := baseline.New(st)
	comparisons := comparison.New(st, nil, baselines, log)
	testruns := testrun.New(st, nil, nil, comparisons, baselines, log)

	srv := New(cfg, st, nil, nil, nil, nil, nil, comparisons, baselines, testruns, nil, sharedMetrics, log)
	return srv, st
}

// newTestServerWithCapture wires a fake Capability and blob store into the
// testrun.Service, so POST /snapshots can actually drive a capture end to
// end instead of hitting a nil capability.
func newTestServerWithCapture(t *testing.T, screenshot []byte) (*Server, *store.Store) {
	t.Helper()
	sharedMetricsOnce.Do(func() { sharedMetrics = metrics.New() })

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	st := store.New()
	log := logger.NewDefault()
	baselines := baseline.New(st)
	blobs := &fakeBlobStore{}
	comparisons := comparison.New(st, blobs, baselines, log)
	testruns := testrun.New(st, &fakeCapability{screenshot: screenshot}, blobs, comparisons, baselines, log)

	srv := New(cfg, st, nil, nil, nil, nil, nil, comparisons, baselines, testruns, nil, sharedMetrics, log)
	return srv, st
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
}

func TestHandlePagesCreateAndList(t *testing.T) {
	srv, st := newTestServer(t)
	proj := st.CreateProject(&domain.Project{Name: "marketing-site", DiffThreshold: 0.1})

	routes := srv.Routes()
	createRec := doRequest(t, routes, http.MethodPost, "/pages", domain.Page{
		ProjectID: proj.ID,
		Slug:      "home",
		URLPath:   "/",
		Enabled:   true,
	})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created domain.Page
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created page: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected store to assign an ID")
	}

	listRec := doRequest(t, routes, http.MethodGet, "/pages?project_id="+proj.ID, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var pages []*domain.Page
	if err := json.Unmarshal(listRec.Body.Bytes(), &pages); err != nil {
		t.Fatalf("decode page list: %v", err)
	}
	if len(pages) != 1 || pages[0].Slug != "home" {
		t.Fatalf("expected one page named home, got %+v", pages)
	}
}

func TestHandlePageByIDNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodGet, "/pages/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleBrowserConfigsCreateAndList(t *testing.T) {
	srv, st := newTestServer(t)
	proj := st.CreateProject(&domain.Project{Name: "docs-site", DiffThreshold: 0.1})
	routes := srv.Routes()

	rec := doRequest(t, routes, http.MethodPost, "/browser_configs", domain.BrowserConfig{
		ProjectID: proj.ID,
		Name:      "desktop-chrome",
		Family:    domain.Chromium,
		Viewport:  domain.Viewport{Width: 1920, Height: 1080},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	listRec := doRequest(t, routes, http.MethodGet, "/browser_configs?project_id="+proj.ID, nil)
	var configs []*domain.BrowserConfig
	if err := json.Unmarshal(listRec.Body.Bytes(), &configs); err != nil {
		t.Fatalf("decode config list: %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "desktop-chrome" {
		t.Fatalf("expected one browser config, got %+v", configs)
	}
}

func TestHandleCredentialsCreateAppliesStoreDefaults(t *testing.T) {
	srv, st := newTestServer(t)
	proj := st.CreateProject(&domain.Project{Name: "internal-tools", DiffThreshold: 0.1})
	routes := srv.Routes()

	rec := doRequest(t, routes, http.MethodPost, "/credentials", domain.Credential{
		ProjectID: proj.ID,
		Name:      "admin-login",
		VaultPath: "secret/data/internal-tools/admin",
		Type:      domain.CredLogin,
		Active:    false, // the store forces this true regardless
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Credential
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created credential: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected store to assign an ID")
	}
	if !created.Active {
		t.Fatalf("expected store to force Active=true on creation")
	}
}

func TestHandleSnapshotsTriggersCapture(t *testing.T) {
	srv, st := newTestServerWithCapture(t, solidPNG(t, 8, 8, color.RGBA{40, 40, 40, 255}))
	proj := st.CreateProject(&domain.Project{Name: "docs-site", DiffThreshold: 0.1})
	page, err := st.CreatePage(&domain.Page{ProjectID: proj.ID, Slug: "home", URLPath: "/", Enabled: true})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	cfg := st.CreateBrowserConfig(&domain.BrowserConfig{
		ProjectID: proj.ID,
		Name:      "desktop-chrome",
		Family:    domain.Chromium,
		Viewport:  domain.Viewport{Width: 1920, Height: 1080},
	})

	rec := doRequest(t, srv.Routes(), http.MethodPost, "/snapshots", map[string]string{
		"page_id":           page.ID,
		"browser_config_id": cfg.ID,
		"branch":            "main",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != domain.SnapshotCaptured {
		t.Fatalf("expected handleSnapshots to drive a real capture, got status %q", snap.Status)
	}
	if snap.ImageKey == "" {
		t.Fatalf("expected a captured snapshot to have an image key")
	}

	stored, err := st.GetSnapshot(snap.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if stored.Status != domain.SnapshotCaptured {
		t.Fatalf("expected persisted snapshot to be captured, got %q", stored.Status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Routes(), http.MethodDelete, "/pages", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareRejectsBurst(t *testing.T) {
	limiter := newStrictLimiterForTest()
	handler := rateLimitMiddleware(limiter, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	first := httptest.NewRecorder()
	handler(first, httptest.NewRequest(http.MethodGet, "/pages", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler(second, httptest.NewRequest(http.MethodGet, "/pages", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", second.Code)
	}
}
