// Package browsercap abstracts over the browser-driving backend a capture
// or AI task runs against. Callers only ever see the Capability interface;
// the one variant in this package is Local, a headless browser driven
// directly over CDP, and no remote cloud variant is implemented.
package browsercap

import (
	"context"
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

// Action enumerates the operations perform_action can dispatch.
type Action string

const (
	ActionClick           Action = "click"
	ActionClickAt         Action = "click_at"
	ActionType            Action = "type"
	ActionFill            Action = "fill"
	ActionHover           Action = "hover"
	ActionScroll          Action = "scroll"
	ActionScrollIntoView  Action = "scroll_into_view"
	ActionSelect          Action = "select"
	ActionWait            Action = "wait"
	ActionPress           Action = "press"
	ActionFocus           Action = "focus"
	ActionClear           Action = "clear"
	ActionCheck           Action = "check"
	ActionUncheck         Action = "uncheck"
	ActionNavigate        Action = "navigate"
)

// ScrollDirection names the directions perform_action's scroll accepts
// alongside an explicit pixel delta.
type ScrollDirection string

const (
	ScrollUp       ScrollDirection = "up"
	ScrollDown     ScrollDirection = "down"
	ScrollPageUp   ScrollDirection = "page_up"
	ScrollPageDown ScrollDirection = "page_down"
	ScrollTop      ScrollDirection = "top"
	ScrollBottom   ScrollDirection = "bottom"
)

// ActionOptions carries the optional parameters perform_action accepts,
// depending on the action kind.
type ActionOptions struct {
	X, Y           float64 // click_at coordinates
	HasXY          bool
	Direction      ScrollDirection
	DeltaX, DeltaY float64
	HasDelta       bool
	Key            string        // press
	WaitMS         int           // wait
	Timeout        time.Duration // wait_for_selector / wait_for_navigation
}

// ElementKind classifies an extracted interactive element.
type ElementKind string

const (
	ElementButton   ElementKind = "button"
	ElementInput    ElementKind = "input"
	ElementLink     ElementKind = "link"
	ElementCheckbox ElementKind = "checkbox"
	ElementSelect   ElementKind = "select"
	ElementOther    ElementKind = "other"
)

// ElementRef is one extracted interactive element, addressable by its
// short ref token (e.g. "BTN3", "CHK1") for a subsequent perform_action.
type ElementRef struct {
	Ref     string
	Kind    ElementKind
	Tag     string
	Text    string
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// ElementSnapshot is the return value of extract_elements_with_refs: the
// ordered element list plus the viewport it was computed against.
type ElementSnapshot struct {
	Elements      []ElementRef
	ViewportWidth int
	ViewportHeight int
}

// SessionProfile is the full browser emulation profile CreateSession builds a
// session from: the viewport that also determines the pool key (per §4.B,
// a Worker is keyed to family+viewport), plus the device metrics, user agent
// and touch emulation a BrowserConfig carries in its test matrix entry.
// Family defaults to domain.Chromium when empty.
type SessionProfile struct {
	Family            domain.BrowserFamily
	Viewport          domain.Viewport
	DeviceScaleFactor float64
	Mobile            bool
	Touch             bool
	UserAgent         string
}

// Capability is the full operation set every backend (local or cloud) must
// implement identically, per §4.A. Implementations wrap every failure in a
// *domain.Error with Kind == domain.KindBrowserError.
type Capability interface {
	CreateSession(ctx context.Context, profile SessionProfile) (sessionID string, err error)
	CloseSession(ctx context.Context, sessionID string) error

	Navigate(ctx context.Context, sessionID, url string) error
	PerformAction(ctx context.Context, sessionID string, action Action, selector, value string, opts ActionOptions) error
	Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error)
	PageContent(ctx context.Context, sessionID string) (string, error)
	CurrentURL(ctx context.Context, sessionID string) (string, error)
	CurrentTitle(ctx context.Context, sessionID string) (string, error)
	Evaluate(ctx context.Context, sessionID, script string, out any) error
	WaitForSelector(ctx context.Context, sessionID, selector string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, sessionID string, timeout time.Duration) error
	SessionAlive(ctx context.Context, sessionID string) bool
	ExtractElementsWithRefs(ctx context.Context, sessionID string) (ElementSnapshot, error)
}
