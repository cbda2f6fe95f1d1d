// Package domain holds the core entities of the visual-regression and
// browser-automation engine: projects, pages, baselines, snapshots, test
// runs, comparisons, AI tasks and their steps, the action cache, browser
// sessions, and credential references. Entities are plain structs keyed by
// opaque identifiers; relational lookups happen through the store package,
// never through embedded pointers, so the graph never cycles in memory.
package domain

import (
	"strconv"
	"time"
)

// NewID returns a new opaque identifier for any entity in this package.
func NewID() string {
	return newUUID()
}

// BrowserFamily enumerates the browser engines a BrowserConfig can target.
type BrowserFamily string

const (
	Chromium BrowserFamily = "chromium"
	Firefox  BrowserFamily = "firefox"
	WebKit   BrowserFamily = "webkit"
)

// Viewport is a capture viewport: width/height in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Project is the tenant scope: it owns pages, browser configs, test runs,
// AI tasks, browser sessions, action cache entries, and credentials.
type Project struct {
	ID                  string
	Name                string
	DefaultViewport      Viewport
	DiffThreshold        float64 // fraction 0.0-1.0, compared against diff_percentage/100
	PreCaptureWaitMS     int
	HideSelectors        []string
	MaskSelectors        []string
	DefaultLLMModel      string
	DefaultBrowserProvider string
	SecretStoreToken     string // optional per-project override of the service token
	CreatedAt            time.Time
}

// PreCaptureAction is one step of a page's ordered pre-capture action list.
type PreCaptureAction struct {
	Type     string // click | scroll | wait | type | hover | select
	Selector string
	Value    string
}

// Page is a target URL path within a project, unique by slug per project.
type Page struct {
	ID                 string
	ProjectID          string
	Slug               string
	URLPath            string
	Viewport           *Viewport // nil => fall back to project default
	PreCaptureActions  []PreCaptureAction
	WaitForSelector    string
	WaitMS             int
	HideSelectors      []string
	MaskSelectors      []string
	Enabled            bool
	CreatedAt          time.Time
}

// EffectiveSettings is the page/project merge used by a capture task.
type EffectiveSettings struct {
	Viewport          Viewport
	PreCaptureActions []PreCaptureAction
	WaitForSelector   string
	WaitMS            int
	HideSelectors     []string
	MaskSelectors     []string
}

// Effective resolves a page's capture settings against its project,
// per spec §4.E: page value union project fallback.
func (p *Page) Effective(proj *Project) EffectiveSettings {
	es := EffectiveSettings{
		Viewport:          proj.DefaultViewport,
		PreCaptureActions: p.PreCaptureActions,
		WaitForSelector:   p.WaitForSelector,
		WaitMS:            p.WaitMS,
	}
	if p.Viewport != nil {
		es.Viewport = *p.Viewport
	}
	if len(p.HideSelectors) > 0 {
		es.HideSelectors = p.HideSelectors
	} else {
		es.HideSelectors = proj.HideSelectors
	}
	if len(p.MaskSelectors) > 0 {
		es.MaskSelectors = p.MaskSelectors
	} else {
		es.MaskSelectors = proj.MaskSelectors
	}
	if es.WaitMS == 0 {
		es.WaitMS = proj.PreCaptureWaitMS
	}
	return es
}

// BrowserConfig is a named capture profile.
type BrowserConfig struct {
	ID               string
	ProjectID        string
	Name             string
	Family           BrowserFamily
	Viewport         Viewport
	DeviceScaleFactor float64
	Mobile           bool
	Touch            bool
	UserAgent        string
}

// Key is the pool key for this profile: family + exact capture surface.
func (bc BrowserConfig) Key() string {
	return string(bc.Family) + ":" + strconv.Itoa(bc.Viewport.Width) + "x" + strconv.Itoa(bc.Viewport.Height)
}

// Baseline is the approved reference screenshot for (Page, BrowserConfig, branch).
type Baseline struct {
	ID              string
	PageID          string
	BrowserConfigID string
	Branch          string
	Active          bool
	ApprovedAt      time.Time
	ApprovedBy      string
	Commit          string
	Width           int
	Height          int
	ImageKey        string // blob store key
	ThumbnailKey    string
}

// SnapshotStatus is the lifecycle of a Snapshot.
type SnapshotStatus string

const (
	SnapshotPending   SnapshotStatus = "pending"
	SnapshotCaptured  SnapshotStatus = "captured"
	SnapshotComparing SnapshotStatus = "comparing"
	SnapshotCompared  SnapshotStatus = "compared"
	SnapshotError     SnapshotStatus = "error"
)

// Snapshot is a captured image for (Page, BrowserConfig).
type Snapshot struct {
	ID              string
	PageID          string
	BrowserConfigID string
	TestRunID       string // optional
	Status          SnapshotStatus
	Branch          string
	Commit          string
	Environment     string
	Width           int
	Height          int
	ImageKey        string
	ThumbnailKey    string
	ErrorMessage    string
	CreatedAt       time.Time
	CapturedAt      time.Time
}

// TestRunStatus is the state machine of a TestRun (§4.E).
type TestRunStatus string

const (
	RunPending TestRunStatus = "pending"
	RunRunning TestRunStatus = "running"
	RunPassed  TestRunStatus = "passed"
	RunFailed  TestRunStatus = "failed"
	RunError   TestRunStatus = "error"
)

// TestRun is an aggregate over a set of (Page x BrowserConfig) captures.
type TestRun struct {
	ID           string
	ProjectID    string
	Branch       string
	Commit       string
	Environment  string
	Status       TestRunStatus
	TotalPages   int
	PassedCount  int
	FailedCount  int
	PendingCount int
	ErrorCount   int
	StartedAt    time.Time
	CompletedAt  time.Time
	DurationMS   int64
}

// Terminal reports whether the run has reached a terminal status. The store
// uses this, under its lock, as the single-shot completion guard from I-T2.
func (t *TestRun) Terminal() bool {
	return t.Status == RunPassed || t.Status == RunFailed || t.Status == RunError
}

// ReviewStatus is the human-review outcome of a failed/pending Comparison.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ComparisonStatus is the verdict status of a Comparison.
type ComparisonStatus string

const (
	ComparisonPassed  ComparisonStatus = "passed"
	ComparisonFailed  ComparisonStatus = "failed"
	ComparisonPending ComparisonStatus = "pending"
	ComparisonError   ComparisonStatus = "error"
)

// Comparison is a verdict record linking a Baseline and a Snapshot.
type Comparison struct {
	ID             string
	BaselineID     string
	SnapshotID     string
	TestRunID      string
	Status         ComparisonStatus
	DiffPercentage float64
	DiffPixels     int64
	ThresholdUsed  float64
	WithinThreshold bool
	DiffImageKey   string
	ReviewStatus   *ReviewStatus
	ReviewedBy     string
	ReviewedAt     time.Time
	ReviewNotes    string
	CreatedAt      time.Time
}

// AITaskStatus is the lifecycle of an AITask.
type AITaskStatus string

const (
	TaskPending   AITaskStatus = "pending"
	TaskRunning   AITaskStatus = "running"
	TaskCompleted AITaskStatus = "completed"
	TaskStopped   AITaskStatus = "stopped"
	TaskTimeout   AITaskStatus = "timeout"
	TaskError     AITaskStatus = "error"
)

// AITask drives the observe-decide-act loop against a natural-language instruction.
type AITask struct {
	ID                 string
	ProjectID          string
	Instruction        string
	StartURL           string
	Model              string
	BrowserProvider    string
	StepBudget         int
	TimeoutSeconds     int
	Viewport           Viewport
	CaptureScreenshots bool
	CredentialID       string // optional: before_execute login hook
	Status             AITaskStatus
	StepsExecuted      int
	InputTokens        int64
	OutputTokens       int64
	StopRequested      bool
	Result             string
	ErrorMessage       string
	CreatedAt          time.Time
	StartedAt          time.Time
	CompletedAt        time.Time
}

// TaskStep is one ordered sub-record of an AITask.
type TaskStep struct {
	ID         string
	TaskID     string
	Position   int
	Action     string
	Selector   string
	Value      string
	ActionData map[string]any
	Success    bool
	Error      string
	DurationMS int64
	URLBefore  string
	URLAfter   string
	Reasoning  string
	Tokens     int64
	CreatedAt  time.Time
}

// ActionCacheEntry memoizes a prior successful browser action.
type ActionCacheEntry struct {
	ID             string
	ProjectID      string
	URLPattern     string
	ActionType     string
	InstructionHash string // 16 hex chars, or ""
	ActionData     map[string]any
	SuccessCount   int
	FailureCount   int
	AvgDurationMS  float64
	LastUsedAt     time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Reliable implements invariant I-C1.
func (e *ActionCacheEntry) Reliable(now time.Time) bool {
	return e.SuccessCount > 2*e.FailureCount && e.ExpiresAt.After(now)
}

// BrowserSessionStatus is the lifecycle of a BrowserSession.
type BrowserSessionStatus string

const (
	SessionInitializing BrowserSessionStatus = "initializing"
	SessionActive       BrowserSessionStatus = "active"
	SessionIdle         BrowserSessionStatus = "idle"
	SessionError        BrowserSessionStatus = "error"
	SessionClosed       BrowserSessionStatus = "closed"
)

// BrowserSession is a live session handle exposed over the API surface.
type BrowserSession struct {
	ID                string
	ProjectID         string
	ProviderSessionID string
	Provider          string
	Status            BrowserSessionStatus
	CurrentURL        string
	CurrentTitle      string
	Viewport          Viewport
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// CredentialType enumerates supported credential kinds.
type CredentialType string

const (
	CredLogin  CredentialType = "login"
	CredAPIKey CredentialType = "api_key"
	CredOAuth  CredentialType = "oauth"
	CredCookie CredentialType = "cookie"
	CredBearer CredentialType = "bearer"
)

// Credential is a reference only: it never holds secret bytes.
type Credential struct {
	ID            string
	ProjectID     string
	Name          string
	VaultPath     string
	ServiceURLGlob string
	Type          CredentialType
	ExpiresAt     *time.Time
	UseCount      int64
	LastUsedAt    time.Time
	Active        bool
	CreatedAt     time.Time
}

// Expired reports whether the credential's expiry has passed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

