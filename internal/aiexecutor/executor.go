// Package aiexecutor implements the AI Task Executor (§4.I): an
// observe-decide-act loop that drives a browser to complete a
// natural-language instruction.
package aiexecutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brainzlab/vision/internal/actioncache"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/credential"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/llmcap"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/pkg/logger"
)

// Config tunes the loop's retry/batching behavior; zero values fall back to
// the spec's defaults via applyDefaults.
type Config struct {
	MaxRetriesPerAction    int
	MaxConsecutiveFailures int
	RetrySleep             time.Duration
	StepSleep              time.Duration
	FlushEvery             int
	CleanerEvery           int
	MaxElementsInPrompt    int
	RefResolveTimeout      time.Duration
}

func (c Config) applyDefaults() Config {
	if c.MaxRetriesPerAction == 0 {
		c.MaxRetriesPerAction = 2
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.RetrySleep == 0 {
		c.RetrySleep = 500 * time.Millisecond
	}
	if c.StepSleep == 0 {
		c.StepSleep = 300 * time.Millisecond
	}
	if c.FlushEvery == 0 {
		c.FlushEvery = 5
	}
	if c.CleanerEvery == 0 {
		c.CleanerEvery = 10
	}
	if c.MaxElementsInPrompt == 0 {
		c.MaxElementsInPrompt = 40
	}
	if c.RefResolveTimeout == 0 {
		c.RefResolveTimeout = 10 * time.Second
	}
	return c
}

// BlobStore is the narrow slice of blobstore.Client the executor needs to
// attach per-step screenshots.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Executor drives one AITask from setup through a terminal status.
type Executor struct {
	store       *store.Store
	capability  browsercap.Capability
	llms        *llmcap.Factory
	actionCache *actioncache.Cache
	credentials *credential.Service
	blobs       BlobStore
	cfg         Config
	log         *logger.Logger
}

func New(st *store.Store, cap browsercap.Capability, llms *llmcap.Factory, ac *actioncache.Cache, creds *credential.Service, blobs BlobStore, cfg Config, log *logger.Logger) *Executor {
	return &Executor{
		store: st, capability: cap, llms: llms, actionCache: ac,
		credentials: creds, blobs: blobs, cfg: cfg.applyDefaults(), log: log,
	}
}

type stepSummary struct {
	Action  string
	Target  string
	Success bool
}

// pendingScreenshot/pendingCacheable are queued side-effects, flushed every
// FlushEvery steps and at termination per §4.I step 6.
type pendingScreenshot struct {
	stepID string
	bytes  []byte
}

type pendingCacheable struct {
	url        string
	actionType string
	actionData map[string]any
}

// Run executes task from pending through a terminal status. projectAPIKey
// and projectToken are passed through to the LLM factory and vault client
// respectively; both may be empty to fall back to environment/service
// defaults.
func (e *Executor) Run(ctx context.Context, task *domain.AITask, projectAPIKey, projectToken string) error {
	if e.log != nil {
		ctx = e.log.WithTaskID(ctx, task.ID)
	}

	task.Status = domain.TaskRunning
	task.StartedAt = time.Now()
	_ = e.store.UpdateAITask(task)

	llm, err := e.llms.New(ctx, task.Model, projectAPIKey)
	if err != nil {
		return e.fail(task, err)
	}

	sessionID, err := e.capability.CreateSession(ctx, browsercap.SessionProfile{Viewport: task.Viewport})
	if err != nil {
		return e.fail(task, err)
	}
	defer e.capability.CloseSession(ctx, sessionID)

	if task.StartURL != "" {
		if err := e.capability.Navigate(ctx, sessionID, task.StartURL); err != nil {
			return e.fail(task, err)
		}
	}
	runCleaner(ctx, e.capability, sessionID)

	if task.CredentialID != "" {
		if _, err := e.credentials.Fetch(ctx, task.CredentialID, projectToken); err != nil && e.log != nil {
			e.log.WarnContext(ctx, "before_execute credential login failed", zap.Error(err))
		}
		if current, err := e.capability.CurrentURL(ctx, sessionID); err == nil && task.StartURL != "" {
			if !strings.Contains(current, startPath(task.StartURL)) {
				_ = e.capability.Navigate(ctx, sessionID, task.StartURL)
			}
		}
		runCleaner(ctx, e.capability, sessionID)
	}

	return e.loop(ctx, task, llm, sessionID)
}

// startPath extracts the path portion used by the post-login redirect
// recompute's substring-inclusion check (Open Question #3: substring, not
// exact match).
func startPath(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return "/"
	}
	return rest[slash:]
}

func (e *Executor) loop(ctx context.Context, task *domain.AITask, llm llmcap.Capability, sessionID string) error {
	history := make([]stepSummary, 0, 5)
	refs := map[string]browsercap.ElementRef{}
	consecutiveFailures := 0
	var screenshots []pendingScreenshot
	var cacheables []pendingCacheable

	maxSteps := task.StepBudget
	if maxSteps <= 0 {
		maxSteps = 30
	}

	for step := 0; step < maxSteps; step++ {
		if e.store.StopRequested(task.ID) {
			e.flush(ctx, task, &screenshots, &cacheables)
			return e.transition(task, domain.TaskStopped, "")
		}

		screenshot, err := e.capability.Screenshot(ctx, sessionID, false)
		if err != nil {
			return e.fail(task, err)
		}
		snapshot, err := e.capability.ExtractElementsWithRefs(ctx, sessionID)
		if err != nil {
			return e.fail(task, err)
		}
		refs = make(map[string]browsercap.ElementRef, len(snapshot.Elements))
		for _, el := range snapshot.Elements {
			refs[el.Ref] = el
		}

		currentURL, _ := e.capability.CurrentURL(ctx, sessionID)
		currentTitle, _ := e.capability.CurrentTitle(ctx, sessionID)
		prompt := buildPrompt(task.Instruction, currentURL, currentTitle, step, history, snapshot.Elements, e.cfg.MaxElementsInPrompt)

		result, err := llm.AnalyzeImage(ctx, screenshot, "image/png", prompt)
		if err != nil {
			return e.fail(task, err)
		}
		task.InputTokens += result.Usage.InputTokens
		task.OutputTokens += result.Usage.OutputTokens

		d := parseDecision(result.Text)

		if d.Complete {
			task.Result = d.Result
			e.flush(ctx, task, &screenshots, &cacheables)
			return e.transition(task, domain.TaskCompleted, d.Result)
		}

		urlBefore := currentURL
		success, stepErr, target := e.act(ctx, sessionID, d, refs)
		urlAfter, _ := e.capability.CurrentURL(ctx, sessionID)

		taskStep := &domain.TaskStep{
			TaskID:     task.ID,
			Action:     d.Action.Type,
			Selector:   target,
			Value:      d.Action.Value,
			Success:    success,
			URLBefore:  urlBefore,
			URLAfter:   urlAfter,
			Reasoning:  d.Thinking,
			Tokens:     result.Usage.InputTokens + result.Usage.OutputTokens,
		}
		if stepErr != nil {
			taskStep.Error = stepErr.Error()
		}
		created := e.store.AppendTaskStep(taskStep)

		history = append(history, stepSummary{Action: d.Action.Type, Target: target, Success: success})
		if len(history) > 5 {
			history = history[len(history)-5:]
		}

		if success {
			consecutiveFailures = 0
			screenshots = append(screenshots, pendingScreenshot{stepID: created.ID, bytes: screenshot})
			if d.Action.Type == "click" || d.Action.Type == "type" {
				cacheables = append(cacheables, pendingCacheable{url: urlBefore, actionType: d.Action.Type, actionData: map[string]any{"ref": d.Action.Ref, "value": d.Action.Value}})
			}
		} else {
			consecutiveFailures++
		}

		task.StepsExecuted++
		_ = e.store.UpdateAITask(task)

		if consecutiveFailures >= e.cfg.MaxConsecutiveFailures {
			e.flush(ctx, task, &screenshots, &cacheables)
			return e.transition(task, domain.TaskError, fmt.Sprintf("aborted after %d consecutive failures", consecutiveFailures))
		}

		if (step+1)%e.cfg.FlushEvery == 0 {
			e.flush(ctx, task, &screenshots, &cacheables)
		}
		if (step+1)%e.cfg.CleanerEvery == 0 {
			runCleaner(ctx, e.capability, sessionID)
		}

		time.Sleep(e.cfg.StepSleep)
	}

	e.flush(ctx, task, &screenshots, &cacheables)
	return e.transition(task, domain.TaskCompleted, fmt.Sprintf("Reached maximum steps (%d)", maxSteps))
}

// act executes one decided action with retries, returning whether it
// ultimately succeeded, the last error, and a human-readable target
// description for the TaskStep record.
func (e *Executor) act(ctx context.Context, sessionID string, d decision, refs map[string]browsercap.ElementRef) (bool, error, string) {
	target := d.Action.Ref
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetriesPerAction; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetrySleep)
		}
		err := e.doAction(ctx, sessionID, d, refs)
		if err == nil {
			return true, nil, target
		}
		lastErr = err
	}
	return false, lastErr, target
}

func (e *Executor) doAction(ctx context.Context, sessionID string, d decision, refs map[string]browsercap.ElementRef) error {
	switch d.Action.Type {
	case "click":
		if el, ok := refs[d.Action.Ref]; ok {
			return e.capability.PerformAction(ctx, sessionID, browsercap.ActionClickAt, "", "", browsercap.ActionOptions{HasXY: true, X: el.CenterX, Y: el.CenterY})
		}
		if d.Action.Value == "" {
			return domain.NewBrowserError(domain.BrowserInvalidSelector, "unresolved ref "+d.Action.Ref, nil)
		}
		return e.capability.PerformAction(ctx, sessionID, browsercap.ActionClick, normalizeSelector(d.Action.Value), "", browsercap.ActionOptions{})
	case "type":
		el, ok := refs[d.Action.Ref]
		if !ok {
			return domain.NewBrowserError(domain.BrowserInvalidSelector, "unresolved ref "+d.Action.Ref, nil)
		}
		if err := e.capability.PerformAction(ctx, sessionID, browsercap.ActionClickAt, "", "", browsercap.ActionOptions{HasXY: true, X: el.CenterX, Y: el.CenterY}); err != nil {
			return err
		}
		script := fmt.Sprintf("document.execCommand('insertText', false, %q);", d.Action.Value)
		return e.capability.Evaluate(ctx, sessionID, script, nil)
	case "scroll":
		dir := browsercap.ScrollDown
		return e.capability.PerformAction(ctx, sessionID, browsercap.ActionScroll, "", "", browsercap.ActionOptions{Direction: dir})
	case "wait":
		ms := parseMS(d.Action.Value)
		return e.capability.PerformAction(ctx, sessionID, browsercap.ActionWait, "", "", browsercap.ActionOptions{WaitMS: ms})
	default:
		return domain.NewBrowserError(domain.BrowserInvalidAction, "unknown action type "+d.Action.Type, nil)
	}
}

func parseMS(value string) int {
	var ms int
	if _, err := fmt.Sscanf(value, "%d", &ms); err != nil || ms <= 0 {
		return 1000
	}
	return ms
}

func (e *Executor) flush(ctx context.Context, task *domain.AITask, screenshots *[]pendingScreenshot, cacheables *[]pendingCacheable) {
	for _, s := range *screenshots {
		key := fmt.Sprintf("ai_task_steps/%s.png", s.stepID)
		if _, err := e.blobs.Put(ctx, key, s.bytes, "image/png"); err != nil && e.log != nil {
			e.log.WarnContext(ctx, "failed to flush step screenshot", zap.Error(err))
		}
	}
	*screenshots = nil

	entries := make([]actioncache.Entry, 0, len(*cacheables))
	for _, c := range *cacheables {
		entries = append(entries, actioncache.Entry{URL: c.url, ActionType: c.actionType, ActionData: c.actionData})
	}
	if len(entries) > 0 && e.actionCache != nil {
		e.actionCache.BatchStore(task.ProjectID, entries, task.Instruction)
	}
	*cacheables = nil
}

func (e *Executor) transition(task *domain.AITask, status domain.AITaskStatus, result string) error {
	task.Status = status
	if result != "" {
		task.Result = result
	}
	task.CompletedAt = time.Now()
	return e.store.UpdateAITask(task)
}

func (e *Executor) fail(task *domain.AITask, cause error) error {
	task.Status = domain.TaskError
	task.ErrorMessage = cause.Error()
	task.CompletedAt = time.Now()
	_ = e.store.UpdateAITask(task)
	return cause
}

func buildPrompt(instruction, url, title string, step int, history []stepSummary, elements []browsercap.ElementRef, maxElements int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", instruction)
	fmt.Fprintf(&b, "Current URL: %s\nTitle: %s\nStep: %d\n", url, title, step)
	if len(history) > 0 {
		b.WriteString("Recent steps:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s %s (%s)\n", h.Action, h.Target, successWord(h.Success))
		}
	}
	b.WriteString("Interactive elements:\n")
	n := len(elements)
	if n > maxElements {
		n = maxElements
	}
	for i := 0; i < n; i++ {
		el := elements[i]
		fmt.Fprintf(&b, "%s: %q at (%.0f, %.0f)\n", el.Ref, el.Text, el.CenterX, el.CenterY)
	}
	b.WriteString("Respond with exactly one JSON object: ")
	b.WriteString(`{"thinking": string, "action": {"type": "click|type|scroll|wait", "ref": string?, "value": string?}, "complete": bool, "result": string?}`)
	return b.String()
}

func successWord(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
