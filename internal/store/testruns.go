package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateTestRun(run *domain.TestRun) *domain.TestRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = domain.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = domain.RunPending
	}
	cp := *run
	s.testRuns[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetTestRun(id string) (*domain.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.testRuns[id]
	if !ok {
		return nil, notFound("test_run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListTestRuns(projectID string) []*domain.TestRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.TestRun, 0)
	for _, run := range s.testRuns {
		if run.ProjectID == projectID {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out
}

// UpdateTestRunCounts overwrites the per-page tallies of an in-flight run.
// It refuses to touch a run that has already reached a terminal status,
// since counts on a finished run are a derived, closed fact.
func (s *Store) UpdateTestRunCounts(id string, passed, failed, pending, errored int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.testRuns[id]
	if !ok {
		return notFound("test_run", id)
	}
	if run.Terminal() {
		return domain.NewConflictError("test run already completed: "+id, nil)
	}
	cp := *run
	cp.PassedCount = passed
	cp.FailedCount = failed
	cp.PendingCount = pending
	cp.ErrorCount = errored
	if cp.Status == domain.RunPending && (passed+failed+errored) > 0 {
		cp.Status = domain.RunRunning
	}
	s.testRuns[id] = &cp
	return nil
}

// AdjustTestRunCounts applies passedDelta/failedDelta to a run's counters
// regardless of terminal status. This backs review-driven corrections
// (approving a failed comparison after the run has already finished),
// which §4.D requires even though the run itself is a closed fact by then.
func (s *Store) AdjustTestRunCounts(id string, passedDelta, failedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.testRuns[id]
	if !ok {
		return notFound("test_run", id)
	}
	cp := *run
	cp.PassedCount += passedDelta
	if cp.PassedCount < 0 {
		cp.PassedCount = 0
	}
	cp.FailedCount += failedDelta
	if cp.FailedCount < 0 {
		cp.FailedCount = 0
	}
	s.testRuns[id] = &cp
	return nil
}

// CompleteTestRun transitions a run to a terminal status exactly once. A
// second call for the same run is a conflict, not a silent no-op: the
// caller asked to finish a run that's already finished.
func (s *Store) CompleteTestRun(id string, status domain.TestRunStatus) (*domain.TestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.testRuns[id]
	if !ok {
		return nil, notFound("test_run", id)
	}
	if run.Terminal() {
		return nil, domain.NewConflictError("test run already completed: "+id, nil)
	}

	cp := *run
	cp.Status = status
	cp.CompletedAt = time.Now()
	cp.DurationMS = cp.CompletedAt.Sub(cp.StartedAt).Milliseconds()
	s.testRuns[id] = &cp

	out := cp
	return &out, nil
}
