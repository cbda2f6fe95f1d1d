package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateBrowserSession(bs *domain.BrowserSession) *domain.BrowserSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bs.ID == "" {
		bs.ID = domain.NewID()
	}
	if bs.CreatedAt.IsZero() {
		bs.CreatedAt = time.Now()
	}
	cp := *bs
	s.browserSessions[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetBrowserSession(id string) (*domain.BrowserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bs, ok := s.browserSessions[id]
	if !ok {
		return nil, notFound("browser_session", id)
	}
	cp := *bs
	return &cp, nil
}

func (s *Store) UpdateBrowserSession(bs *domain.BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.browserSessions[bs.ID]; !ok {
		return notFound("browser_session", bs.ID)
	}
	cp := *bs
	s.browserSessions[cp.ID] = &cp
	return nil
}

func (s *Store) ListBrowserSessions(projectID string) []*domain.BrowserSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BrowserSession, 0)
	for _, bs := range s.browserSessions {
		if bs.ProjectID == projectID {
			cp := *bs
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) DeleteBrowserSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.browserSessions[id]; !ok {
		return notFound("browser_session", id)
	}
	delete(s.browserSessions, id)
	return nil
}
