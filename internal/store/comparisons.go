package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateComparison(c *domain.Comparison) *domain.Comparison {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	s.comparisons[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetComparison(id string) (*domain.Comparison, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comparisons[id]
	if !ok {
		return nil, notFound("comparison", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListComparisonsByTestRun(testRunID string) []*domain.Comparison {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Comparison, 0)
	for _, c := range s.comparisons {
		if c.TestRunID == testRunID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// ReviewComparison records a human decision on a failed/pending comparison.
// It is a conflict to review a comparison twice: once reviewed, the verdict
// is a closed fact that a second call cannot silently overwrite.
func (s *Store) ReviewComparison(id string, status domain.ReviewStatus, reviewedBy, notes string) (*domain.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comparisons[id]
	if !ok {
		return nil, notFound("comparison", id)
	}
	if c.ReviewStatus != nil && *c.ReviewStatus != domain.ReviewPending {
		return nil, domain.NewConflictError("comparison already reviewed: "+id, nil)
	}

	cp := *c
	st := status
	cp.ReviewStatus = &st
	cp.ReviewedBy = reviewedBy
	cp.ReviewedAt = time.Now()
	cp.ReviewNotes = notes
	s.comparisons[id] = &cp

	out := cp
	return &out, nil
}
