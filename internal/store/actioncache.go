package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

type actionCacheKey struct {
	projectID       string
	urlPattern      string
	actionType      string
	instructionHash string
}

func acKey(e *domain.ActionCacheEntry) actionCacheKey {
	return actionCacheKey{
		projectID:       e.ProjectID,
		urlPattern:      e.URLPattern,
		actionType:      e.ActionType,
		instructionHash: e.InstructionHash,
	}
}

// FindActionCacheEntry looks up the memoized entry for an exact
// (project, URL pattern, action type, instruction hash) key.
func (s *Store) FindActionCacheEntry(projectID, urlPattern, actionType, instructionHash string) (*domain.ActionCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := actionCacheKey{projectID, urlPattern, actionType, instructionHash}
	for _, e := range s.actionCache {
		if acKey(e) == want {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notFound("action_cache_entry", urlPattern)
}

func (s *Store) PutActionCacheEntry(e *domain.ActionCacheEntry) *domain.ActionCacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	s.actionCache[cp.ID] = &cp
	out := cp
	return &out
}

// RecordActionOutcome updates an entry's rolling success/failure counters and
// average duration after a replay attempt, under the same lock that guards
// the read side so Reliable() never observes a half-applied update.
func (s *Store) RecordActionOutcome(id string, success bool, durationMS int64) (*domain.ActionCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.actionCache[id]
	if !ok {
		return nil, notFound("action_cache_entry", id)
	}
	cp := *e
	if success {
		cp.SuccessCount++
	} else {
		cp.FailureCount++
	}
	n := float64(cp.SuccessCount + cp.FailureCount)
	cp.AvgDurationMS = cp.AvgDurationMS + (float64(durationMS)-cp.AvgDurationMS)/n
	cp.LastUsedAt = time.Now()
	s.actionCache[id] = &cp

	out := cp
	return &out, nil
}

func (s *Store) DeleteActionCacheEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actionCache[id]; !ok {
		return notFound("action_cache_entry", id)
	}
	delete(s.actionCache, id)
	return nil
}

// ListExpiredActionCacheEntries returns entries whose expiry has passed as
// of now, for the periodic sweep that evicts them from the store.
func (s *Store) ListExpiredActionCacheEntries(now time.Time) []*domain.ActionCacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ActionCacheEntry, 0)
	for _, e := range s.actionCache {
		if !e.ExpiresAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// ListActionCacheEntries returns every action-cache entry for a project,
// for callers that need to scan by URL pattern rather than an exact key.
func (s *Store) ListActionCacheEntries(projectID string) []*domain.ActionCacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ActionCacheEntry, 0)
	for _, e := range s.actionCache {
		if e.ProjectID == projectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
