// Package baseline implements the Baseline Store component (§4.F): the
// atomic promotion of a Snapshot into the active reference image for a
// (page, browser config, branch).
package baseline

import (
	"context"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
)

type Service struct {
	store *store.Store
}

func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Promote inserts a new active baseline from snap's image/thumbnail keys,
// deactivating whatever was active for the same (page, browser config,
// branch) in the same transaction — implementing invariant I-B1.
func (s *Service) Promote(ctx context.Context, snap *domain.Snapshot, approvedBy string) (*domain.Baseline, error) {
	b := &domain.Baseline{
		PageID:          snap.PageID,
		BrowserConfigID: snap.BrowserConfigID,
		Branch:          snap.Branch,
		ApprovedBy:      approvedBy,
		Commit:          snap.Commit,
		Width:           snap.Width,
		Height:          snap.Height,
		ImageKey:        snap.ImageKey,
		ThumbnailKey:    snap.ThumbnailKey,
	}
	return s.store.PromoteBaseline(b)
}

// Current returns the active baseline for (pageID, browserConfigID, branch).
func (s *Service) Current(pageID, browserConfigID, branch string) (*domain.Baseline, error) {
	return s.store.ActiveBaseline(pageID, browserConfigID, branch)
}

// History returns every baseline ever recorded for a page, most recently
// approved first.
func (s *Service) History(pageID string) []*domain.Baseline {
	return s.store.ListBaselineHistory(pageID)
}
