// Package testrun implements the Test Run Orchestrator (§4.E): it expands
// a run into one capture task per (enabled page, enabled browser config),
// drives each capture through a Browser Capability, and hands the result to
// the Comparison Engine.
package testrun

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/comparison"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/pkg/logger"
	"github.com/brainzlab/vision/pkg/utils"
)

const thumbnailWidth = 400

// BlobStore is the narrow slice of blobstore.Client the orchestrator needs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Service drives test runs end to end.
type Service struct {
	store       *store.Store
	capability  browsercap.Capability
	blobs       BlobStore
	comparisons *comparison.Engine
	baselines   *baseline.Service
	log         *logger.Logger
}

func New(st *store.Store, cap browsercap.Capability, blobs BlobStore, comparisons *comparison.Engine, baselines *baseline.Service, log *logger.Logger) *Service {
	return &Service{store: st, capability: cap, blobs: blobs, comparisons: comparisons, baselines: baselines, log: log}
}

// Start expands a run over the cartesian product of enabled pages and the
// given browser configs and drives every capture synchronously, in process;
// there is no job queue behind it. BrowserConfig has no enabled flag, so
// every config passed in is used. This entry point is the single place that
// computes total_pages and decides what "enabled" means.
func (s *Service) Start(ctx context.Context, run *domain.TestRun, pages []*domain.Page, configs []*domain.BrowserConfig, project *domain.Project) (*domain.TestRun, error) {
	enabledPages := make([]*domain.Page, 0, len(pages))
	for _, p := range pages {
		if p.Enabled {
			enabledPages = append(enabledPages, p)
		}
	}

	total := len(enabledPages) * len(configs)
	run.TotalPages = total
	run.PendingCount = total
	run.Status = domain.RunRunning
	run.StartedAt = time.Now()
	created := s.store.CreateTestRun(run)

	if total == 0 {
		return s.store.CompleteTestRun(created.ID, domain.RunPassed)
	}

	for _, page := range enabledPages {
		for _, cfg := range configs {
			s.captureAndCompare(ctx, created.ID, page, cfg, project)
		}
	}

	latest, err := s.store.GetTestRun(created.ID)
	if err != nil {
		return created, nil
	}
	return latest, nil
}

// captureAndCompare runs one page/browser-config capture. Failures never
// propagate to the caller: a failed capture produces an error Comparison
// and increments the run's error counter, per §4.E's edge-case contract.
func (s *Service) captureAndCompare(ctx context.Context, runID string, page *domain.Page, cfg *domain.BrowserConfig, project *domain.Project) {
	if s.log != nil {
		ctx = s.log.WithTestRunID(ctx, runID)
	}

	snap := s.store.CreateSnapshot(&domain.Snapshot{
		PageID:          page.ID,
		BrowserConfigID: cfg.ID,
		TestRunID:       runID,
		Status:          domain.SnapshotPending,
	})

	seededBaseline, err := s.runCapture(ctx, snap, page, cfg, project)
	if err != nil {
		if s.log != nil {
			s.log.WarnContext(ctx, "capture failed", zap.String("page_id", page.ID), zap.Error(err))
		}
		s.recordCaptureFailure(runID, snap, err)
		return
	}
	if seededBaseline {
		s.bumpPending(runID)
	}
}

// CaptureSnapshot drives a single capture outside of any TestRun, for the
// create-and-enqueue-capture HTTP surface (§6 POST /snapshots). It performs
// the capture synchronously and returns the resulting snapshot, whether it
// ended up captured or errored; the caller decides how to report that back.
func (s *Service) CaptureSnapshot(ctx context.Context, page *domain.Page, cfg *domain.BrowserConfig, project *domain.Project, branch, commit, environment string) (*domain.Snapshot, error) {
	snap := s.store.CreateSnapshot(&domain.Snapshot{
		PageID:          page.ID,
		BrowserConfigID: cfg.ID,
		Status:          domain.SnapshotPending,
		Branch:          branch,
		Commit:          commit,
		Environment:     environment,
	})

	if _, err := s.runCapture(ctx, snap, page, cfg, project); err != nil {
		if s.log != nil {
			s.log.WarnContext(ctx, "capture failed", zap.String("page_id", page.ID), zap.Error(err))
		}
		snap.Status = domain.SnapshotError
		snap.ErrorMessage = err.Error()
		_ = s.store.UpdateSnapshot(snap)
		return snap, err
	}
	return snap, nil
}

// runCapture takes the screenshot, uploads it and its thumbnail, marks snap
// captured, and either seeds the first baseline or runs a comparison against
// the current one. It leaves snap untouched on failure; the caller decides
// how to record the error. The returned bool reports whether this capture
// seeded a first baseline (no comparison was run against it), since that's
// the only case the run's own counters need nudging from outside
// comparisons.Run itself.
func (s *Service) runCapture(ctx context.Context, snap *domain.Snapshot, page *domain.Page, cfg *domain.BrowserConfig, project *domain.Project) (seededBaseline bool, err error) {
	settings := page.Effective(project)

	imageBytes, err := s.capture(ctx, page, settings, cfg)
	if err != nil {
		return false, err
	}

	width, height, thumb, err := s.processImage(imageBytes)
	if err != nil {
		return false, err
	}

	imageKey := fmt.Sprintf("snapshots/%s.png", snap.ID)
	thumbKey := fmt.Sprintf("snapshots/%s_thumb.png", snap.ID)
	if _, err := s.blobs.Put(ctx, imageKey, imageBytes, "image/png"); err != nil {
		return false, err
	}
	if _, err := s.blobs.Put(ctx, thumbKey, thumb, "image/png"); err != nil {
		return false, err
	}

	snap.Status = domain.SnapshotCaptured
	snap.Width = width
	snap.Height = height
	snap.ImageKey = imageKey
	snap.ThumbnailKey = thumbKey
	snap.CapturedAt = time.Now()
	_ = s.store.UpdateSnapshot(snap)

	bl, err := s.baselines.Current(page.ID, cfg.ID, snap.Branch)
	if err != nil {
		// No baseline yet: this capture becomes the first one, with no
		// comparison to run against it.
		_, promoteErr := s.baselines.Promote(ctx, snap, "system:first-capture")
		if promoteErr != nil && s.log != nil {
			s.log.WarnContext(ctx, "failed to seed first baseline", zap.String("page_id", page.ID), zap.Error(promoteErr))
		}
		return true, nil
	}

	threshold := project.DiffThreshold
	if _, err := s.comparisons.Run(ctx, bl, snap, threshold); err != nil && s.log != nil {
		s.log.WarnContext(ctx, "comparison failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
	}
	return false, nil
}

// bumpPending moves one unit from pending to passed when a capture has
// nothing to compare against (first baseline for its key).
func (s *Service) bumpPending(runID string) {
	run, err := s.store.GetTestRun(runID)
	if err != nil || run.Terminal() {
		return
	}
	pending := run.PendingCount - 1
	if pending < 0 {
		pending = 0
	}
	passed := run.PassedCount + 1
	if err := s.store.UpdateTestRunCounts(runID, passed, run.FailedCount, pending, run.ErrorCount); err != nil {
		return
	}
	if passed+run.FailedCount+run.ErrorCount >= run.TotalPages {
		_, _ = s.store.CompleteTestRun(runID, statusFor(passed, run.FailedCount, run.ErrorCount))
	}
}

func (s *Service) recordCaptureFailure(runID string, snap *domain.Snapshot, cause error) {
	snap.Status = domain.SnapshotError
	snap.ErrorMessage = cause.Error()
	_ = s.store.UpdateSnapshot(snap)

	s.store.CreateComparison(&domain.Comparison{
		SnapshotID: snap.ID,
		TestRunID:  runID,
		Status:     domain.ComparisonError,
	})

	run, err := s.store.GetTestRun(runID)
	if err != nil || run.Terminal() {
		return
	}
	pending := run.PendingCount - 1
	if pending < 0 {
		pending = 0
	}
	errored := run.ErrorCount + 1
	if err := s.store.UpdateTestRunCounts(runID, run.PassedCount, run.FailedCount, pending, errored); err != nil {
		return
	}
	if run.PassedCount+run.FailedCount+errored >= run.TotalPages {
		_, _ = s.store.CompleteTestRun(runID, statusFor(run.PassedCount, run.FailedCount, errored))
	}
}

func statusFor(passed, failed, errored int) domain.TestRunStatus {
	switch {
	case errored > 0:
		return domain.RunError
	case failed > 0:
		return domain.RunFailed
	default:
		return domain.RunPassed
	}
}

// capture drives one page through the browser: navigate, wait for
// readiness, run pre-capture actions (ignoring individual failures), apply
// hide/mask selectors, and take a full-page screenshot. The session is built
// from cfg's own profile (family, device scale factor, user agent,
// mobile/touch emulation) rather than the page/project's effective
// settings, since cfg is what distinguishes one entry of the browser
// config test matrix from another.
func (s *Service) capture(ctx context.Context, page *domain.Page, settings domain.EffectiveSettings, cfg *domain.BrowserConfig) ([]byte, error) {
	profile := browsercap.SessionProfile{
		Family:            cfg.Family,
		Viewport:          cfg.Viewport,
		DeviceScaleFactor: cfg.DeviceScaleFactor,
		Mobile:            cfg.Mobile,
		Touch:             cfg.Touch,
		UserAgent:         cfg.UserAgent,
	}
	sessionID, err := s.capability.CreateSession(ctx, profile)
	if err != nil {
		return nil, err
	}
	defer s.capability.CloseSession(ctx, sessionID)

	if err := s.capability.Navigate(ctx, sessionID, page.URLPath); err != nil {
		return nil, err
	}

	if settings.WaitForSelector != "" {
		_ = s.capability.WaitForSelector(ctx, sessionID, settings.WaitForSelector, 10*time.Second)
	}
	if settings.WaitMS > 0 {
		time.Sleep(time.Duration(settings.WaitMS) * time.Millisecond)
	}

	for _, action := range settings.PreCaptureActions {
		_ = s.capability.PerformAction(ctx, sessionID, browsercap.Action(action.Type), action.Selector, action.Value, browsercap.ActionOptions{})
	}

	for _, sel := range settings.HideSelectors {
		_ = s.capability.Evaluate(ctx, sessionID, hideScript(sel), nil)
	}
	for _, sel := range settings.MaskSelectors {
		_ = s.capability.Evaluate(ctx, sessionID, maskScript(sel), nil)
	}

	return s.capability.Screenshot(ctx, sessionID, true)
}

func hideScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll('%s').forEach(function(el){ el.style.visibility = 'hidden'; });`, utils.EscapeJSSingleQuote(selector))
}

func maskScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll('%s').forEach(function(el){ el.style.background = '#808080'; el.style.color = 'transparent'; });`, utils.EscapeJSSingleQuote(selector))
}

// processImage decodes a screenshot to learn its dimensions and produces a
// ~400px-wide thumbnail.
func (s *Service) processImage(data []byte) (width, height int, thumb []byte, err error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, nil, domain.NewImageError("decode screenshot", err)
	}
	bounds := img.Bounds()

	thumbImg := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	buf := utils.GetBuffer()
	defer utils.PutBuffer(buf)
	if err := imaging.Encode(buf, thumbImg, imaging.PNG); err != nil {
		return 0, 0, nil, domain.NewImageError("encode thumbnail", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())

	return bounds.Dx(), bounds.Dy(), out, nil
}
