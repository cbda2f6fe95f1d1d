// Package store is the in-process system of record for the visual-regression
// engine. Every entity lives in a map guarded by the Store's single mutex;
// composite lookups (page slug per project, active baseline per page/config/
// branch) are maintained as explicit secondary index maps updated in the
// same critical section as the primary map, so a reader never observes an
// index pointing at a row that isn't there.
//
// There is no SQL here: nothing in the retrieval pack this service's
// ancestor came from talks to a relational database, and the pack's own
// pool/metrics code already manages shared in-process state this way, so
// that idiom is kept rather than bolting on an ungrounded ORM layer.
package store

import (
	"sync"
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

// Store holds every entity map and secondary index for one running service.
type Store struct {
	mu sync.RWMutex

	projects map[string]*domain.Project

	pages       map[string]*domain.Page
	pagesBySlug map[string]map[string]string // projectID -> slug -> pageID

	browserConfigs map[string]*domain.BrowserConfig

	baselines map[string]*domain.Baseline
	// activeBaseline indexes the single active baseline per (pageID, browserConfigID, branch).
	activeBaseline map[baselineKey]string

	snapshots map[string]*domain.Snapshot

	testRuns map[string]*domain.TestRun

	comparisons map[string]*domain.Comparison

	aiTasks   map[string]*domain.AITask
	taskSteps map[string][]*domain.TaskStep // taskID -> ordered steps

	actionCache map[string]*domain.ActionCacheEntry

	browserSessions map[string]*domain.BrowserSession

	credentials map[string]*domain.Credential
}

type baselineKey struct {
	pageID          string
	browserConfigID string
	branch          string
}

// New returns an empty Store ready to serve a single project or many.
func New() *Store {
	return &Store{
		projects:        make(map[string]*domain.Project),
		pages:           make(map[string]*domain.Page),
		pagesBySlug:     make(map[string]map[string]string),
		browserConfigs:  make(map[string]*domain.BrowserConfig),
		baselines:       make(map[string]*domain.Baseline),
		activeBaseline:  make(map[baselineKey]string),
		snapshots:       make(map[string]*domain.Snapshot),
		testRuns:        make(map[string]*domain.TestRun),
		comparisons:     make(map[string]*domain.Comparison),
		aiTasks:         make(map[string]*domain.AITask),
		taskSteps:       make(map[string][]*domain.TaskStep),
		actionCache:     make(map[string]*domain.ActionCacheEntry),
		browserSessions: make(map[string]*domain.BrowserSession),
		credentials:     make(map[string]*domain.Credential),
	}
}

func notFound(kind string, id string) error {
	return domain.NewNotFoundError(kind+" not found: "+id, nil)
}

// CreateProject inserts proj, assigning an ID and CreatedAt if unset.
func (s *Store) CreateProject(proj *domain.Project) *domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	if proj.ID == "" {
		proj.ID = domain.NewID()
	}
	if proj.CreatedAt.IsZero() {
		proj.CreatedAt = time.Now()
	}
	cp := *proj
	s.projects[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetProject(id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProjects() []*domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (s *Store) UpdateProject(proj *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[proj.ID]; !ok {
		return notFound("project", proj.ID)
	}
	cp := *proj
	s.projects[cp.ID] = &cp
	return nil
}

// CreatePage inserts page, enforcing the unique (projectID, slug) index.
func (s *Store) CreatePage(page *domain.Page) (*domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[page.ProjectID]; !ok {
		return nil, notFound("project", page.ProjectID)
	}
	bySlug := s.pagesBySlug[page.ProjectID]
	if bySlug != nil {
		if _, taken := bySlug[page.Slug]; taken {
			return nil, domain.NewConflictError("page slug already exists in project: "+page.Slug, nil)
		}
	}

	if page.ID == "" {
		page.ID = domain.NewID()
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now()
	}
	cp := *page
	s.pages[cp.ID] = &cp

	if bySlug == nil {
		bySlug = make(map[string]string)
		s.pagesBySlug[page.ProjectID] = bySlug
	}
	bySlug[page.Slug] = cp.ID

	out := cp
	return &out, nil
}

func (s *Store) GetPage(id string) (*domain.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[id]
	if !ok {
		return nil, notFound("page", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPages(projectID string) []*domain.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Page, 0)
	for _, p := range s.pages {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) UpdatePage(page *domain.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[page.ID]; !ok {
		return notFound("page", page.ID)
	}
	cp := *page
	s.pages[cp.ID] = &cp
	return nil
}

// CreateBrowserConfig inserts a capture profile.
func (s *Store) CreateBrowserConfig(bc *domain.BrowserConfig) *domain.BrowserConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bc.ID == "" {
		bc.ID = domain.NewID()
	}
	cp := *bc
	s.browserConfigs[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetBrowserConfig(id string) (*domain.BrowserConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bc, ok := s.browserConfigs[id]
	if !ok {
		return nil, notFound("browser_config", id)
	}
	cp := *bc
	return &cp, nil
}

func (s *Store) ListBrowserConfigs(projectID string) []*domain.BrowserConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.BrowserConfig, 0)
	for _, bc := range s.browserConfigs {
		if bc.ProjectID == projectID {
			cp := *bc
			out = append(out, &cp)
		}
	}
	return out
}
