package store

import (
	"time"

	"github.com/brainzlab/vision/internal/domain"
)

func (s *Store) CreateAITask(t *domain.AITask) *domain.AITask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = domain.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	cp := *t
	s.aiTasks[cp.ID] = &cp
	out := cp
	return &out
}

func (s *Store) GetAITask(id string) (*domain.AITask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.aiTasks[id]
	if !ok {
		return nil, notFound("ai_task", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateAITask(t *domain.AITask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.aiTasks[t.ID]; !ok {
		return notFound("ai_task", t.ID)
	}
	cp := *t
	s.aiTasks[cp.ID] = &cp
	return nil
}

// RequestStop marks a running task for cooperative cancellation at the next
// step boundary; the executor polls this rather than being interrupted
// mid-step, so a step always finishes atomically.
func (s *Store) RequestStop(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.aiTasks[taskID]
	if !ok {
		return notFound("ai_task", taskID)
	}
	cp := *t
	cp.StopRequested = true
	s.aiTasks[taskID] = &cp
	return nil
}

func (s *Store) StopRequested(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.aiTasks[taskID]
	return ok && t.StopRequested
}

// AppendTaskStep adds the next ordered step for a task, assigning Position.
func (s *Store) AppendTaskStep(step *domain.TaskStep) *domain.TaskStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step.ID == "" {
		step.ID = domain.NewID()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	step.Position = len(s.taskSteps[step.TaskID])

	cp := *step
	s.taskSteps[step.TaskID] = append(s.taskSteps[step.TaskID], &cp)
	out := cp
	return &out
}

func (s *Store) ListTaskSteps(taskID string) []*domain.TaskStep {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.taskSteps[taskID]
	out := make([]*domain.TaskStep, len(src))
	for i, st := range src {
		cp := *st
		out[i] = &cp
	}
	return out
}
