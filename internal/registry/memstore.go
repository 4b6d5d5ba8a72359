package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enrollflow/enrollflow/model"
)

// MemoryStore is an in-memory Store for testing and single-instance use.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]model.Workflow
	stages      map[string]model.Stage
	transitions map[string]model.Transition
}

// NewMemoryStore creates an empty in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]model.Workflow),
		stages:      make(map[string]model.Stage),
		transitions: make(map[string]model.Transition),
	}
}

// CreateWorkflow persists a new workflow.
func (s *MemoryStore) CreateWorkflow(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", wf.ID))
	}
	s.workflows[wf.ID] = wf
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[id]
	if !exists {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	return wf, nil
}

// ListWorkflows returns all workflows ordered by creation time.
func (s *MemoryStore) ListWorkflows(_ context.Context) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateWorkflow persists workflow changes.
func (s *MemoryStore) UpdateWorkflow(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", wf.ID))
	}
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = wf
	return nil
}

// DeleteWorkflow removes a workflow and cascades to stages and transitions.
func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	delete(s.workflows, id)
	for sid, st := range s.stages {
		if st.WorkflowID == id {
			delete(s.stages, sid)
		}
	}
	for tid, tr := range s.transitions {
		if tr.WorkflowID == id {
			delete(s.transitions, tid)
		}
	}
	return nil
}

// ActiveWorkflow returns the active workflow for an application type.
func (s *MemoryStore) ActiveWorkflow(_ context.Context, applicationType string) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, wf := range s.workflows {
		if wf.ApplicationType == applicationType && wf.Active {
			return wf, nil
		}
	}
	return model.Workflow{}, model.NewNotFoundError(
		fmt.Sprintf("no active workflow for application type %q", applicationType),
	)
}

// SetActive activates a workflow and deactivates the previously active one
// of the same type in a single critical section.
func (s *MemoryStore) SetActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, exists := s.workflows[id]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}

	now := time.Now().UTC()
	for otherID, other := range s.workflows {
		if otherID != id && other.ApplicationType == wf.ApplicationType && other.Active {
			other.Active = false
			other.UpdatedAt = now
			s.workflows[otherID] = other
		}
	}
	wf.Active = true
	wf.UpdatedAt = now
	s.workflows[id] = wf
	return nil
}

// SetInactive deactivates a workflow.
func (s *MemoryStore) SetInactive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, exists := s.workflows[id]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	wf.Active = false
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[id] = wf
	return nil
}

// CreateStage persists a new stage.
func (s *MemoryStore) CreateStage(_ context.Context, st model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[st.WorkflowID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", st.WorkflowID))
	}
	if _, exists := s.stages[st.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("stage %q already exists", st.ID))
	}
	s.stages[st.ID] = st
	return nil
}

// GetStage retrieves a stage by ID.
func (s *MemoryStore) GetStage(_ context.Context, id string) (model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stages[id]
	if !exists {
		return model.Stage{}, model.NewNotFoundError(fmt.Sprintf("stage %q not found", id))
	}
	return st, nil
}

// UpdateStage persists stage changes.
func (s *MemoryStore) UpdateStage(_ context.Context, st model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[st.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("stage %q not found", st.ID))
	}
	st.UpdatedAt = time.Now().UTC()
	s.stages[st.ID] = st
	return nil
}

// DeleteStage removes a stage, its touching transitions, and re-sequences
// the remaining stages.
func (s *MemoryStore) DeleteStage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.stages[id]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("stage %q not found", id))
	}
	delete(s.stages, id)

	for tid, tr := range s.transitions {
		if tr.SourceStageID == id || tr.TargetStageID == id {
			delete(s.transitions, tid)
		}
	}

	s.resequenceLocked(st.WorkflowID)
	return nil
}

// resequenceLocked reassigns 1-based sequence numbers preserving order.
// Caller must hold the write lock.
func (s *MemoryStore) resequenceLocked(workflowID string) {
	var siblings []model.Stage
	for _, st := range s.stages {
		if st.WorkflowID == workflowID {
			siblings = append(siblings, st)
		}
	}
	sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Sequence < siblings[j].Sequence })
	for i, st := range siblings {
		st.Sequence = i + 1
		s.stages[st.ID] = st
	}
}

// StagesFor returns the stages of a workflow ordered by sequence.
func (s *MemoryStore) StagesFor(_ context.Context, workflowID string) ([]model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Stage
	for _, st := range s.stages {
		if st.WorkflowID == workflowID {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ReorderStages re-assigns sequence numbers following the given ID order.
func (s *MemoryStore) ReorderStages(_ context.Context, workflowID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, st := range s.stages {
		if st.WorkflowID == workflowID {
			count++
		}
	}
	if count != len(orderedIDs) {
		return model.NewBadRequestError(
			fmt.Sprintf("reorder must list all %d stages, got %d", count, len(orderedIDs)),
		)
	}

	now := time.Now().UTC()
	for i, id := range orderedIDs {
		st, exists := s.stages[id]
		if !exists || st.WorkflowID != workflowID {
			return model.NewBadRequestError(fmt.Sprintf("stage %q does not belong to workflow %q", id, workflowID))
		}
		st.Sequence = i + 1
		st.UpdatedAt = now
		s.stages[id] = st
	}
	return nil
}

// CreateTransition persists a new transition.
func (s *MemoryStore) CreateTransition(_ context.Context, tr model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[tr.WorkflowID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", tr.WorkflowID))
	}
	if _, exists := s.transitions[tr.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("transition %q already exists", tr.ID))
	}
	s.transitions[tr.ID] = tr
	return nil
}

// GetTransition retrieves a transition by ID.
func (s *MemoryStore) GetTransition(_ context.Context, id string) (model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, exists := s.transitions[id]
	if !exists {
		return model.Transition{}, model.NewNotFoundError(fmt.Sprintf("transition %q not found", id))
	}
	return tr, nil
}

// UpdateTransition persists transition changes.
func (s *MemoryStore) UpdateTransition(_ context.Context, tr model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transitions[tr.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", tr.ID))
	}
	s.transitions[tr.ID] = tr
	return nil
}

// DeleteTransition removes a transition.
func (s *MemoryStore) DeleteTransition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transitions[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", id))
	}
	delete(s.transitions, id)
	return nil
}

// TransitionsFor returns the transitions of a workflow ordered by priority.
func (s *MemoryStore) TransitionsFor(_ context.Context, workflowID string) ([]model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transition
	for _, tr := range s.transitions {
		if tr.WorkflowID == workflowID {
			out = append(out, tr)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// NextPriority returns max(priority)+1 for the workflow's transitions.
func (s *MemoryStore) NextPriority(_ context.Context, workflowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := 1
	for _, tr := range s.transitions {
		if tr.WorkflowID == workflowID && tr.Priority >= next {
			next = tr.Priority + 1
		}
	}
	return next, nil
}
