package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func keyOf(b *domain.Baseline) baselineKey {
	return baselineKey{pageID: b.PageID, browserConfigID: b.BrowserConfigID, branch: b.Branch}
}

// PromoteBaseline inserts newBaseline as the active baseline for its
// (page, browser config, branch), deactivating whatever was active there
// before. Both the deactivation and the activation happen while holding the
// store's lock, so a reader can never observe two active baselines for the
// same key (I-B1) nor a brief window with zero.
func (s *Store) PromoteBaseline(b *domain.Baseline) (*domain.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = domain.NewID()
	}
	if b.ApprovedAt.IsZero() {
		b.ApprovedAt = time.Now()
	}
	b.Active = true

	k := keyOf(b)
	if prevID, ok := s.activeBaseline[k]; ok {
		if prev, ok := s.baselines[prevID]; ok {
			deactivated := *prev
			deactivated.Active = false
			s.baselines[prevID] = &deactivated
		}
	}

	cp := *b
	s.baselines[cp.ID] = &cp
	s.activeBaseline[k] = cp.ID

	out := cp
	return &out, nil
}

// ActiveBaseline returns the currently active baseline for (pageID,
// browserConfigID, branch), or a NotFound error if none has ever been
// approved there.
func (s *Store) ActiveBaseline(pageID, browserConfigID, branch string) (*domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeBaseline[baselineKey{pageID: pageID, browserConfigID: browserConfigID, branch: branch}]
	if !ok {
		return nil, notFound("baseline", pageID+"/"+browserConfigID+"/"+branch)
	}
	b, ok := s.baselines[id]
	if !ok {
		return nil, notFound("baseline", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) GetBaseline(id string) (*domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baselines[id]
	if !ok {
		return nil, notFound("baseline", id)
	}
	cp := *b
	return &cp, nil
}

// ListBaselineHistory returns every baseline ever recorded for a page,
// active or not, most recent approval first.
func (s *Store) ListBaselineHistory(pageID string) []*domain.Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Baseline, 0)
	for _, b := range s.baselines {
		if b.PageID == pageID {
			cp := *b
			out = append(out, &cp)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ApprovedAt.After(out[j-1].ApprovedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
