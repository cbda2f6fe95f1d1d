// Package comparison implements the Comparison Engine (§4.D): it fetches a
// baseline and a snapshot's image bytes, runs the Image Differ, persists
// the verdict, and keeps the owning TestRun's counters consistent with it.
package comparison

import (
	"context"

	"go.uber.org/zap"

	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/differ"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/pkg/logger"
)

// BlobStore is the slice of blobstore.Client the engine actually calls,
// narrowed so tests can substitute an in-memory fake.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Engine struct {
	store    *store.Store
	blobs    BlobStore
	baseline *baseline.Service
	log      *logger.Logger
}

func New(st *store.Store, blobs BlobStore, baselines *baseline.Service, log *logger.Logger) *Engine {
	return &Engine{store: st, blobs: blobs, baseline: baselines, log: log}
}

// Run executes the 8-step comparison process for one (baseline, snapshot)
// pair, counting it against the snapshot's TestRun if it has one. threshold
// is the pass/fail cutoff (a fraction 0.0-1.0) and is used as given: the
// caller resolves the project default before calling.
func (e *Engine) Run(ctx context.Context, bl *domain.Baseline, snap *domain.Snapshot, threshold float64) (*domain.Comparison, error) {
	snap.Status = domain.SnapshotComparing
	_ = e.store.UpdateSnapshot(snap)

	baselineBytes, err := e.blobs.Get(ctx, bl.ImageKey)
	if err != nil {
		return e.fail(snap, threshold)
	}
	snapshotBytes, err := e.blobs.Get(ctx, snap.ImageKey)
	if err != nil {
		return e.fail(snap, threshold)
	}

	result, err := differ.Compare(baselineBytes, snapshotBytes, differ.Options{})
	if err != nil {
		return e.fail(snap, threshold)
	}

	withinThreshold := result.DiffPercentage <= threshold*100
	status := domain.ComparisonPassed
	if !withinThreshold {
		status = domain.ComparisonFailed
	}

	var diffKey string
	if result.DiffPercentage > 0 {
		diffKey = "diff/" + snap.ID + ".png"
		if _, err := e.blobs.Put(ctx, diffKey, result.DiffImage, "image/png"); err != nil {
			if e.log != nil {
				e.log.Warn("failed to upload diff overlay", zap.String("snapshot_id", snap.ID))
			}
			diffKey = ""
		}
	}

	var reviewStatus *domain.ReviewStatus
	if !withinThreshold {
		pending := domain.ReviewPending
		reviewStatus = &pending
	}

	cmp := e.store.CreateComparison(&domain.Comparison{
		BaselineID:      bl.ID,
		SnapshotID:      snap.ID,
		TestRunID:       snap.TestRunID,
		Status:          status,
		DiffPercentage:  result.DiffPercentage,
		DiffPixels:      result.DiffPixels,
		ThresholdUsed:   threshold,
		WithinThreshold: withinThreshold,
		DiffImageKey:    diffKey,
		ReviewStatus:    reviewStatus,
	})

	snap.Status = domain.SnapshotCompared
	_ = e.store.UpdateSnapshot(snap)

	if snap.TestRunID != "" {
		e.bumpRunCounter(snap.TestRunID, status)
	}

	return cmp, nil
}

func (e *Engine) fail(snap *domain.Snapshot, threshold float64) (*domain.Comparison, error) {
	snap.Status = domain.SnapshotError
	snap.ErrorMessage = "failed to load or compare images"
	_ = e.store.UpdateSnapshot(snap)

	cmp := e.store.CreateComparison(&domain.Comparison{
		SnapshotID:    snap.ID,
		TestRunID:     snap.TestRunID,
		Status:        domain.ComparisonError,
		ThresholdUsed: threshold,
	})
	if snap.TestRunID != "" {
		e.bumpRunCounter(snap.TestRunID, domain.ComparisonError)
	}
	return cmp, domain.NewImageError("comparison failed for snapshot "+snap.ID, nil)
}

func (e *Engine) bumpRunCounter(testRunID string, status domain.ComparisonStatus) {
	run, err := e.store.GetTestRun(testRunID)
	if err != nil {
		return
	}
	passed, failed, errored := run.PassedCount, run.FailedCount, run.ErrorCount
	switch status {
	case domain.ComparisonPassed:
		passed++
	case domain.ComparisonFailed:
		failed++
	default:
		errored++
	}
	pending := run.PendingCount - 1
	if pending < 0 {
		pending = 0
	}
	if err := e.store.UpdateTestRunCounts(testRunID, passed, failed, pending, errored); err != nil {
		return
	}
	if passed+failed+errored >= run.TotalPages {
		e.completeRun(testRunID, passed, failed, errored)
	}
}

func (e *Engine) completeRun(testRunID string, passed, failed, errored int) {
	status := domain.RunPassed
	if errored > 0 {
		status = domain.RunError
	} else if failed > 0 {
		status = domain.RunFailed
	}
	_, _ = e.store.CompleteTestRun(testRunID, status)
}

// Approve records review_status = approved. When promote is true, it also
// promotes the comparison's snapshot to a new active baseline. Whether or
// not it promotes, if the comparison had been failed it atomically moves one
// unit from failed_count to passed_count on the owning TestRun.
func (e *Engine) Approve(ctx context.Context, comparisonID, reviewedBy, notes string, promote bool) (*domain.Comparison, error) {
	cmp, err := e.store.GetComparison(comparisonID)
	if err != nil {
		return nil, err
	}
	wasFailed := cmp.Status == domain.ComparisonFailed

	updated, err := e.store.ReviewComparison(comparisonID, domain.ReviewApproved, reviewedBy, notes)
	if err != nil {
		return nil, err
	}

	if promote {
		snap, err := e.store.GetSnapshot(updated.SnapshotID)
		if err == nil {
			_, _ = e.baseline.Promote(ctx, snap, reviewedBy)
		}
	}

	if wasFailed && updated.TestRunID != "" {
		_ = e.store.AdjustTestRunCounts(updated.TestRunID, 1, -1)
	}

	return updated, nil
}

// Reject records review_status = rejected. It never alters TestRun counters.
func (e *Engine) Reject(comparisonID, reviewedBy, notes string) (*domain.Comparison, error) {
	return e.store.ReviewComparison(comparisonID, domain.ReviewRejected, reviewedBy, notes)
}
