package aiexecutor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/brainzlab/vision/internal/actioncache"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/credential"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/llmcap"
	"github.com/brainzlab/vision/internal/secretstore"
	"github.com/brainzlab/vision/internal/store"
)

type fakeCapability struct {
	url       string
	clicks    int
	failNavig bool
}

func (f *fakeCapability) CreateSession(ctx context.Context, profile browsercap.SessionProfile) (string, error) {
	return "sess1", nil
}
func (f *fakeCapability) CloseSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeCapability) Navigate(ctx context.Context, sessionID, url string) error {
	f.url = url
	return nil
}
func (f *fakeCapability) PerformAction(ctx context.Context, sessionID string, action browsercap.Action, selector, value string, opts browsercap.ActionOptions) error {
	f.clicks++
	return nil
}
func (f *fakeCapability) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error) {
	return []byte("fake-png-bytes"), nil
}
func (f *fakeCapability) PageContent(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (f *fakeCapability) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	return f.url, nil
}
func (f *fakeCapability) CurrentTitle(ctx context.Context, sessionID string) (string, error) {
	return "Test Page", nil
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
	return browsercap.ElementSnapshot{
		Elements: []browsercap.ElementRef{
			{Ref: "BTN1", Kind: browsercap.ElementButton, Text: "Buy now", CenterX: 100, CenterY: 200},
		},
		ViewportWidth: 1280, ViewportHeight: 800,
	}, nil
}

// scriptedLLM replays a fixed sequence of decisions, one per AnalyzeImage call.
type scriptedLLM struct {
	decisions []string
	calls     int
}

func (s *scriptedLLM) next() string {
	if s.calls >= len(s.decisions) {
		return s.decisions[len(s.decisions)-1]
	}
	d := s.decisions[s.calls]
	s.calls++
	return d
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llmcap.Message) (llmcap.Result, error) {
	return llmcap.Result{Text: s.next()}, nil
}
func (s *scriptedLLM) Stream(ctx context.Context, messages []llmcap.Message, cb llmcap.StreamCallback) (llmcap.Result, error) {
	return llmcap.Result{Text: s.next()}, nil
}
func (s *scriptedLLM) AnalyzeImage(ctx context.Context, imageBytes []byte, mimeType, prompt string) (llmcap.Result, error) {
	return llmcap.Result{Text: s.next()}, nil
}
func (s *scriptedLLM) ExtractStructured(ctx context.Context, messages []llmcap.Message, schema json.RawMessage) (map[string]any, error) {
	return nil, nil
}
func (s *scriptedLLM) Model() string { return "scripted" }

func newExecutor(t *testing.T, cap browsercap.Capability) (*Executor, *store.Store) {
	t.Helper()
	st := store.New()
	ac := actioncache.New(st)
	vault := secretstore.New(secretstore.Config{BaseURL: "http://vault.test", ServiceToken: "t"})
	creds := credential.New(st, vault, "test")
	exec := New(st, cap, llmcap.NewFactory(func(string) string { return "" }), ac, creds, noopBlobs{}, Config{}, nil)
	return exec, st
}

type noopBlobs struct{}

func (noopBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", nil
}

func TestRunCompletesWhenDecisionSignalsComplete(t *testing.T) {
	cap := &fakeCapability{}
	exec, st := newExecutor(t, cap)

	task := st.CreateAITask(&domain.AITask{
		ProjectID:   "proj1",
		Instruction: "buy the item",
		StartURL:    "https://shop.example.com/item",
		Model:       "claude-sonnet-4-20250514",
		StepBudget:  10,
	})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"click buy","action":{"type":"click","ref":"BTN1"},"complete":false}`,
		`{"thinking":"done","action":{"type":"wait","value":"0"},"complete":true,"result":"purchased"}`,
	}}
	err := exec.loop(context.Background(), task, llm, "sess1")
	if err != nil {
		t.Fatalf("loop: %v", err)
	}

	reloaded, err := st.GetAITask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reloaded.Status != domain.TaskCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
	if reloaded.Result != "purchased" {
		t.Fatalf("expected result %q, got %q", "purchased", reloaded.Result)
	}
	if cap.clicks != 1 {
		t.Fatalf("expected exactly one click action, got %d", cap.clicks)
	}

	steps := st.ListTaskSteps(task.ID)
	if len(steps) != 1 {
		t.Fatalf("expected one recorded step before completion, got %d", len(steps))
	}
	if steps[0].Position != 0 {
		t.Fatalf("expected the first step's position to be 0, got %d", steps[0].Position)
	}
}

func TestRunStopsAfterMaxConsecutiveFailures(t *testing.T) {
	cap := &fakeCapability{}
	st := store.New()
	ac := actioncache.New(st)
	vault := secretstore.New(secretstore.Config{BaseURL: "http://vault.test", ServiceToken: "t"})
	creds := credential.New(st, vault, "test")
	exec := New(st, cap, llmcap.NewFactory(func(string) string { return "" }), ac, creds, noopBlobs{}, Config{MaxConsecutiveFailures: 2, MaxRetriesPerAction: 0, StepSleep: time.Millisecond}, nil)

	task := st.CreateAITask(&domain.AITask{ProjectID: "proj1", Instruction: "click a missing ref", StepBudget: 20})

	llm := &scriptedLLM{decisions: []string{
		`{"thinking":"x","action":{"type":"click","ref":"NOPE"},"complete":false}`,
	}}
	err := exec.loop(context.Background(), task, llm, "sess1")
	if err != nil {
		t.Fatalf("loop: %v", err)
	}

	reloaded, err := st.GetAITask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reloaded.Status != domain.TaskError {
		t.Fatalf("expected an error status after repeated failures, got %s", reloaded.Status)
	}
}

func TestParseDecisionFallsBackToDefaultOnGarbage(t *testing.T) {
	d := parseDecision("not json at all")
	if d.Action.Type != "wait" {
		t.Fatalf("expected the default wait action, got %+v", d)
	}
}

func TestNormalizeSelectorRewritesJQueryisms(t *testing.T) {
	got := normalizeSelector(`div:contains("Accept"):visible`)
	want := `div:has-text("Accept")`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStartPathExtractsPathForRedirectRecompute(t *testing.T) {
	cases := map[string]string{
		"https://app.example.com/login":        "/login",
		"https://app.example.com":              "/",
		"https://app.example.com/dashboard/v2": "/dashboard/v2",
		"not-a-url":                             "not-a-url",
	}
	for in, want := range cases {
		if got := startPath(in); got != want {
			t.Fatalf("startPath(%q) = %q, want %q", in, got, want)
		}
	}
}
