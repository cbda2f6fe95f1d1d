package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateSnapshot(snap *domain.Snapshot) *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = domain.NewID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	if snap.Status == "" {
		snap.Status = domain.SnapshotPending
	}
	cp := *snap
	s.snapshots[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetSnapshot(id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, notFound("snapshot", id)
	}
	cp := *snap
	return &cp, nil
}

func (s *Store) UpdateSnapshot(snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[snap.ID]; !ok {
		return notFound("snapshot", snap.ID)
	}
	cp := *snap
	s.snapshots[cp.ID] = &cp
	return nil
}

func (s *Store) ListSnapshotsByTestRun(testRunID string) []*domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.TestRunID == testRunID {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out
}
