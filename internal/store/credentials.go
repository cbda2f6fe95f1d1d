package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateCredential(c *domain.Credential) *domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.Active = true
	cp := *c
	s.credentials[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetCredential(id string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[id]
	if !ok {
		return nil, notFound("credential", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCredentials(projectID string) []*domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Credential, 0)
	for _, c := range s.credentials {
		if c.ProjectID == projectID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// MarkCredentialUsed bumps the use counter and last-used timestamp; called
// each time a credential reference is resolved against the secret store.
func (s *Store) MarkCredentialUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return notFound("credential", id)
	}
	cp := *c
	cp.UseCount++
	cp.LastUsedAt = time.Now()
	s.credentials[id] = &cp
	return nil
}

func (s *Store) RevokeCredential(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return notFound("credential", id)
	}
	cp := *c
	cp.Active = false
	s.credentials[id] = &cp
	return nil
}
