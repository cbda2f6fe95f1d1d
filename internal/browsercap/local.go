package browsercap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/pool"
)

// Local drives a headless browser directly over CDP via a pool.Manager.
// A session is a checked-out pool.Worker held until CloseSession returns it.
type Local struct {
	pools *pool.Manager

	mu       sync.Mutex
	sessions map[string]localSession
}

type localSession struct {
	poolKey string
	worker  *pool.Worker
}

// NewLocal wraps a pool manager as a browser Capability.
func NewLocal(pools *pool.Manager) *Local {
	return &Local{
		pools:    pools,
		sessions: make(map[string]localSession),
	}
}

func browserErr(reason domain.BrowserErrorReason, msg string, err error) error {
	return domain.NewBrowserError(reason, msg, err)
}

func (l *Local) get(sessionID string) (*pool.Worker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return nil, browserErr(domain.BrowserConnectionLost, "unknown session "+sessionID, nil)
	}
	return s.worker, nil
}

// callerBound derives a context from the worker's own chromedp tab context
// (which chromedp needs to route the action to the right target) that is
// also canceled the moment ctx is — so a caller-supplied timeout or
// cancellation actually bounds the chromedp call instead of being silently
// ignored in favor of the worker's longer-lived background context.
func callerBound(ctx context.Context, w *pool.Worker) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(w.Context())
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return bound, func() {
		close(stop)
		cancel()
	}
}

func (l *Local) CreateSession(ctx context.Context, profile SessionProfile) (string, error) {
	family := profile.Family
	if family == "" {
		family = domain.Chromium
	}
	key := domain.BrowserConfig{Family: family, Viewport: profile.Viewport}.Key()
	p := l.pools.ForKey(key)

	w, err := p.Checkout(ctx)
	if err != nil {
		return "", browserErr(domain.BrowserConnectionLost, "checkout worker", err)
	}

	scale := profile.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(profile.Viewport.Width), int64(profile.Viewport.Height), scale, profile.Mobile),
	}
	if profile.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(profile.UserAgent))
	}
	if profile.Touch {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetTouchEmulationEnabled(true).Do(ctx)
		}))
	}

	runCtx, cancel := callerBound(ctx, w)
	err = chromedp.Run(runCtx, actions...)
	cancel()
	if err != nil {
		p.Checkin(w)
		return "", browserErr(domain.BrowserNavigationFailed, "set viewport", err)
	}

	sessionID := domain.NewID()
	l.mu.Lock()
	l.sessions[sessionID] = localSession{poolKey: key, worker: w}
	l.mu.Unlock()
	return sessionID, nil
}

func (l *Local) CloseSession(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	s, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	l.pools.ForKey(s.poolKey).Checkin(s.worker)
	return nil
}

func (l *Local) Navigate(ctx context.Context, sessionID, url string) error {
	w, err := l.get(sessionID)
	if err != nil {
		return err
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return browserErr(domain.BrowserNavigationFailed, "navigate to "+url, err)
	}
	return nil
}

func scrollScript(dir ScrollDirection, dx, dy float64, hasDelta bool) string {
	if hasDelta {
		return fmt.Sprintf("window.scrollBy(%f, %f);", dx, dy)
	}
	switch dir {
	case ScrollUp:
		return "window.scrollBy(0, -400);"
	case ScrollDown:
		return "window.scrollBy(0, 400);"
	case ScrollPageUp:
		return "window.scrollBy(0, -window.innerHeight);"
	case ScrollPageDown:
		return "window.scrollBy(0, window.innerHeight);"
	case ScrollTop:
		return "window.scrollTo(0, 0);"
	case ScrollBottom:
		return "window.scrollTo(0, document.body.scrollHeight);"
	default:
		return "window.scrollBy(0, 400);"
	}
}

// PerformAction dispatches to the chromedp action matching action, per §4.A.
func (l *Local) PerformAction(ctx context.Context, sessionID string, action Action, selector, value string, opts ActionOptions) error {
	w, err := l.get(sessionID)
	if err != nil {
		return err
	}
	tabCtx, cancel := callerBound(ctx, w)
	defer cancel()

	switch action {
	case ActionClick:
		if opts.HasXY {
			return l.runOrWrap(tabCtx, chromedp.MouseClickXY(opts.X, opts.Y))
		}
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "click requires selector or coordinates", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.Click(selector, chromedp.ByQuery))
	case ActionClickAt:
		if !opts.HasXY {
			return browserErr(domain.BrowserInvalidAction, "click_at requires coordinates", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.MouseClickXY(opts.X, opts.Y))
	case ActionType:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "type requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	case ActionFill:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "fill requires selector", nil)
		}
		return l.runOrWrap(tabCtx,
			chromedp.SetValue(selector, "", chromedp.ByQuery),
			chromedp.SendKeys(selector, value, chromedp.ByQuery),
		)
	case ActionHover:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "hover requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
	case ActionScroll:
		return l.runOrWrap(tabCtx, chromedp.Evaluate(scrollScript(opts.Direction, opts.DeltaX, opts.DeltaY, opts.HasDelta), nil))
	case ActionScrollIntoView:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "scroll_into_view requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
	case ActionSelect:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "select requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.SetValue(selector, value, chromedp.ByQuery))
	case ActionWait:
		wait := time.Duration(opts.WaitMS) * time.Millisecond
		if wait <= 0 {
			wait = 500 * time.Millisecond
		}
		time.Sleep(wait)
		return nil
	case ActionPress:
		if opts.Key == "" {
			return browserErr(domain.BrowserInvalidAction, "press requires a key", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.KeyEvent(opts.Key))
	case ActionFocus:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "focus requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.Focus(selector, chromedp.ByQuery))
	case ActionClear:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "clear requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.SetValue(selector, "", chromedp.ByQuery))
	case ActionCheck:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "check requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%q).checked = true;", selector), nil))
	case ActionUncheck:
		if selector == "" {
			return browserErr(domain.BrowserInvalidAction, "uncheck requires selector", nil)
		}
		return l.runOrWrap(tabCtx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%q).checked = false;", selector), nil))
	case ActionNavigate:
		if value == "" {
			return browserErr(domain.BrowserInvalidAction, "navigate requires a URL in value", nil)
		}
		return l.Navigate(ctx, sessionID, value)
	default:
		return browserErr(domain.BrowserInvalidAction, "unknown action "+string(action), nil)
	}
}

func (l *Local) runOrWrap(ctx context.Context, actions ...chromedp.Action) error {
	if err := chromedp.Run(ctx, actions...); err != nil {
		reason := domain.BrowserInvalidSelector
		if strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "timeout") {
			reason = domain.BrowserTimeout
		}
		return browserErr(reason, "perform action", err)
	}
	return nil
}

func (l *Local) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error) {
	w, err := l.get(sessionID)
	if err != nil {
		return nil, err
	}
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	if err := chromedp.Run(runCtx, action); err != nil {
		return nil, browserErr(domain.BrowserTimeout, "screenshot", err)
	}
	return buf, nil
}

func (l *Local) PageContent(ctx context.Context, sessionID string) (string, error) {
	w, err := l.get(sessionID)
	if err != nil {
		return "", err
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", browserErr(domain.BrowserTimeout, "page content", err)
	}
	return html, nil
}

func (l *Local) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	w, err := l.get(sessionID)
	if err != nil {
		return "", err
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", browserErr(domain.BrowserTimeout, "current url", err)
	}
	return url, nil
}

func (l *Local) CurrentTitle(ctx context.Context, sessionID string) (string, error) {
	w, err := l.get(sessionID)
	if err != nil {
		return "", err
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	var title string
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		return "", browserErr(domain.BrowserTimeout, "current title", err)
	}
	return title, nil
}

func (l *Local) Evaluate(ctx context.Context, sessionID, script string, out any) error {
	w, err := l.get(sessionID)
	if err != nil {
		return err
	}
	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return browserErr(domain.BrowserInvalidAction, "evaluate", err)
	}
	return nil
}

func (l *Local) WaitForSelector(ctx context.Context, sessionID, selector string, timeout time.Duration) error {
	w, err := l.get(sessionID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	boundCtx, boundCancel := callerBound(ctx, w)
	defer boundCancel()
	waitCtx, cancel := context.WithTimeout(boundCtx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return browserErr(domain.BrowserTimeout, "wait for selector "+selector, err)
	}
	return nil
}

func (l *Local) WaitForNavigation(ctx context.Context, sessionID string, timeout time.Duration) error {
	w, err := l.get(sessionID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	boundCtx, boundCancel := callerBound(ctx, w)
	defer boundCancel()
	waitCtx, cancel := context.WithTimeout(boundCtx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return browserErr(domain.BrowserTimeout, "wait for navigation", err)
	}
	return nil
}

func (l *Local) SessionAlive(ctx context.Context, sessionID string) bool {
	w, err := l.get(sessionID)
	if err != nil {
		return false
	}
	boundCtx, boundCancel := callerBound(ctx, w)
	defer boundCancel()
	evalCtx, cancel := context.WithTimeout(boundCtx, 2*time.Second)
	defer cancel()
	var ok bool
	return chromedp.Run(evalCtx, chromedp.Evaluate("true", &ok)) == nil
}

func (l *Local) ExtractElementsWithRefs(ctx context.Context, sessionID string) (ElementSnapshot, error) {
	w, err := l.get(sessionID)
	if err != nil {
		return ElementSnapshot{}, err
	}

	runCtx, cancel := callerBound(ctx, w)
	defer cancel()
	var rawJSON string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(extractElementsJS, &rawJSON)); err != nil {
		return ElementSnapshot{}, browserErr(domain.BrowserInvalidAction, "extract elements", err)
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(rawJSON), &raw); err != nil {
		return ElementSnapshot{}, browserErr(domain.BrowserInvalidAction, "decode element extraction", err)
	}
	return assignRefs(raw), nil
}
