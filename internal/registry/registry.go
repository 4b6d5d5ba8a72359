package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/graph"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/model"
)

// Registry is the service layer over the definition store. It owns the
// lifecycle rules: workflows are created inactive, edited only while
// inactive, validated at activation, and deleted only while inactive.
type Registry struct {
	store   Store
	audit   model.AuditSink
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a Registry. audit and metrics may be nil.
func NewRegistry(store Store, audit model.AuditSink, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, audit: audit, logger: logger, metrics: metrics}
}

func (r *Registry) countActivation(action, outcome string) {
	if r.metrics != nil {
		r.metrics.ActivationsTotal.WithLabelValues(action, outcome).Inc()
	}
}

// Store exposes the underlying store for read paths that need no
// lifecycle rules.
func (r *Registry) Store() Store { return r.store }

// CreateWorkflow creates a new, inactive workflow.
func (r *Registry) CreateWorkflow(ctx context.Context, name, description, applicationType, createdBy string) (model.Workflow, error) {
	if name == "" || applicationType == "" {
		return model.Workflow{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "REQUIRED", Message: "name and application_type are required"},
		})
	}

	now := time.Now().UTC()
	wf := model.Workflow{
		ID:              uuid.New().String(),
		Name:            name,
		Description:     description,
		ApplicationType: applicationType,
		Active:          false,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateWorkflow(ctx, wf); err != nil {
		return model.Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow retrieves a workflow by ID.
func (r *Registry) GetWorkflow(ctx context.Context, id string) (model.Workflow, error) {
	return r.store.GetWorkflow(ctx, id)
}

// ListWorkflows returns all workflows.
func (r *Registry) ListWorkflows(ctx context.Context) ([]model.Workflow, error) {
	return r.store.ListWorkflows(ctx)
}

// UpdateWorkflow updates name/description of an inactive workflow.
func (r *Registry) UpdateWorkflow(ctx context.Context, id, name, description string) (model.Workflow, error) {
	wf, err := r.requireInactive(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}
	if name != "" {
		wf.Name = name
	}
	wf.Description = description
	if err := r.store.UpdateWorkflow(ctx, wf); err != nil {
		return model.Workflow{}, err
	}
	return wf, nil
}

// DeleteWorkflow removes an inactive workflow and everything it owns.
func (r *Registry) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := r.requireInactive(ctx, id); err != nil {
		return err
	}
	return r.store.DeleteWorkflow(ctx, id)
}

// ActiveWorkflow returns the active workflow for an application type.
func (r *Registry) ActiveWorkflow(ctx context.Context, applicationType string) (model.Workflow, error) {
	return r.store.ActiveWorkflow(ctx, applicationType)
}

// Validate loads the workflow's graph and runs structural validation
// without changing anything.
func (r *Registry) Validate(ctx context.Context, id string) (graph.Result, error) {
	g, err := r.LoadGraph(ctx, id)
	if err != nil {
		return graph.Result{}, err
	}
	return graph.Validate(g), nil
}

// Activate validates the workflow graph and, if sound, atomically makes it
// the active workflow for its application type, deactivating any previous
// one. An invalid graph is rejected with the full issue list.
func (r *Registry) Activate(ctx context.Context, id string, actor model.Actor) error {
	wf, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}

	g, err := r.LoadGraph(ctx, id)
	if err != nil {
		return err
	}
	if res := graph.Validate(g); !res.Valid {
		r.countActivation("activate", "rejected")
		return model.NewInvalidWorkflowGraphError(res.Issues)
	}

	if err := r.store.SetActive(ctx, id); err != nil {
		r.countActivation("activate", "error")
		return err
	}
	r.countActivation("activate", "success")

	r.logger.Info("workflow activated",
		zap.String("workflow_id", id),
		zap.String("application_type", wf.ApplicationType),
		zap.String("actor_id", actor.ID),
	)
	r.recordAudit(ctx, model.AuditActionActivate, wf.ID, actor, map[string]any{
		"application_type": wf.ApplicationType,
	})
	return nil
}

// Deactivate marks a workflow inactive, leaving its type with no active
// workflow until another is activated.
func (r *Registry) Deactivate(ctx context.Context, id string, actor model.Actor) error {
	wf, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.SetInactive(ctx, id); err != nil {
		r.countActivation("deactivate", "error")
		return err
	}
	r.countActivation("deactivate", "success")
	r.logger.Info("workflow deactivated",
		zap.String("workflow_id", id),
		zap.String("actor_id", actor.ID),
	)
	r.recordAudit(ctx, model.AuditActionDeactivate, wf.ID, actor, nil)
	return nil
}

// Duplicate deep-copies a workflow with all stages and transitions into a
// new, inactive workflow. Used for versioning: duplicate, edit, activate.
func (r *Registry) Duplicate(ctx context.Context, id, newName, createdBy string) (model.Workflow, error) {
	src, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}
	stages, err := r.store.StagesFor(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}
	transitions, err := r.store.TransitionsFor(ctx, id)
	if err != nil {
		return model.Workflow{}, err
	}

	if newName == "" {
		newName = src.Name + " (copy)"
	}
	now := time.Now().UTC()
	dup := model.Workflow{
		ID:              uuid.New().String(),
		Name:            newName,
		Description:     src.Description,
		ApplicationType: src.ApplicationType,
		Active:          false,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateWorkflow(ctx, dup); err != nil {
		return model.Workflow{}, err
	}

	stageIDs := make(map[string]string, len(stages))
	for _, st := range stages {
		copied := st
		copied.ID = uuid.New().String()
		copied.WorkflowID = dup.ID
		copied.CreatedAt = now
		copied.UpdatedAt = now
		stageIDs[st.ID] = copied.ID
		if err := r.store.CreateStage(ctx, copied); err != nil {
			return model.Workflow{}, fmt.Errorf("registry: duplicate stage %q: %w", st.Name, err)
		}
	}
	for _, tr := range transitions {
		copied := tr
		copied.ID = uuid.New().String()
		copied.WorkflowID = dup.ID
		copied.SourceStageID = stageIDs[tr.SourceStageID]
		copied.TargetStageID = stageIDs[tr.TargetStageID]
		copied.CreatedAt = now
		if err := r.store.CreateTransition(ctx, copied); err != nil {
			return model.Workflow{}, fmt.Errorf("registry: duplicate transition %q: %w", tr.Name, err)
		}
	}

	return dup, nil
}

// LoadGraph batch-loads a workflow's stages and transitions and builds the
// indexed graph the engine queries.
func (r *Registry) LoadGraph(ctx context.Context, workflowID string) (*graph.Graph, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	stages, err := r.store.StagesFor(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	transitions, err := r.store.TransitionsFor(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return graph.Build(wf, stages, transitions)
}

// AddStage creates a stage on an inactive workflow, appended at the end of
// the sequence.
func (r *Registry) AddStage(ctx context.Context, workflowID string, st model.Stage) (model.Stage, error) {
	if _, err := r.requireInactive(ctx, workflowID); err != nil {
		return model.Stage{}, err
	}
	if st.Name == "" {
		return model.Stage{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "REQUIRED", Message: "stage name is required"},
		})
	}

	existing, err := r.store.StagesFor(ctx, workflowID)
	if err != nil {
		return model.Stage{}, err
	}

	now := time.Now().UTC()
	st.ID = uuid.New().String()
	st.WorkflowID = workflowID
	st.Sequence = len(existing) + 1
	st.CreatedAt = now
	st.UpdatedAt = now
	if err := r.store.CreateStage(ctx, st); err != nil {
		return model.Stage{}, err
	}
	return st, nil
}

// UpdateStage updates a stage of an inactive workflow. Sequence is not
// editable here; use ReorderStages.
func (r *Registry) UpdateStage(ctx context.Context, stageID string, update model.Stage) (model.Stage, error) {
	st, err := r.store.GetStage(ctx, stageID)
	if err != nil {
		return model.Stage{}, err
	}
	if _, err := r.requireInactive(ctx, st.WorkflowID); err != nil {
		return model.Stage{}, err
	}

	if update.Name != "" {
		st.Name = update.Name
	}
	st.Description = update.Description
	st.RequiredDocuments = update.RequiredDocuments
	st.RequiredActions = update.RequiredActions
	st.Notifications = update.Notifications
	st.AssignedRole = update.AssignedRole
	if err := r.store.UpdateStage(ctx, st); err != nil {
		return model.Stage{}, err
	}
	return st, nil
}

// DeleteStage removes a stage from an inactive workflow, cascading to
// transitions that touch it.
func (r *Registry) DeleteStage(ctx context.Context, stageID string) error {
	st, err := r.store.GetStage(ctx, stageID)
	if err != nil {
		return err
	}
	if _, err := r.requireInactive(ctx, st.WorkflowID); err != nil {
		return err
	}
	return r.store.DeleteStage(ctx, stageID)
}

// ReorderStages re-sequences the stages of an inactive workflow.
func (r *Registry) ReorderStages(ctx context.Context, workflowID string, orderedIDs []string) error {
	if _, err := r.requireInactive(ctx, workflowID); err != nil {
		return err
	}
	return r.store.ReorderStages(ctx, workflowID, orderedIDs)
}

// AddTransition creates a transition on an inactive workflow. Both
// endpoints must belong to the workflow; priority is assigned from
// creation order.
func (r *Registry) AddTransition(ctx context.Context, workflowID string, tr model.Transition) (model.Transition, error) {
	if _, err := r.requireInactive(ctx, workflowID); err != nil {
		return model.Transition{}, err
	}

	source, err := r.store.GetStage(ctx, tr.SourceStageID)
	if err != nil {
		return model.Transition{}, err
	}
	target, err := r.store.GetStage(ctx, tr.TargetStageID)
	if err != nil {
		return model.Transition{}, err
	}
	if source.WorkflowID != workflowID || target.WorkflowID != workflowID {
		return model.Transition{}, model.NewBadRequestError(
			"transition endpoints must belong to the same workflow",
		)
	}
	for _, c := range tr.Conditions {
		if err := c.Validate(); err != nil {
			return model.Transition{}, model.NewValidationError([]model.FieldError{
				{Field: "conditions", Code: "INVALID", Message: err.Error()},
			})
		}
	}

	priority, err := r.store.NextPriority(ctx, workflowID)
	if err != nil {
		return model.Transition{}, err
	}

	tr.ID = uuid.New().String()
	tr.WorkflowID = workflowID
	tr.Priority = priority
	tr.CreatedAt = time.Now().UTC()
	if err := r.store.CreateTransition(ctx, tr); err != nil {
		return model.Transition{}, err
	}
	return tr, nil
}

// UpdateTransition updates a transition of an inactive workflow. Endpoints
// and priority are immutable; delete and recreate to rewire.
func (r *Registry) UpdateTransition(ctx context.Context, transitionID string, update model.Transition) (model.Transition, error) {
	tr, err := r.store.GetTransition(ctx, transitionID)
	if err != nil {
		return model.Transition{}, err
	}
	if _, err := r.requireInactive(ctx, tr.WorkflowID); err != nil {
		return model.Transition{}, err
	}
	for _, c := range update.Conditions {
		if err := c.Validate(); err != nil {
			return model.Transition{}, model.NewValidationError([]model.FieldError{
				{Field: "conditions", Code: "INVALID", Message: err.Error()},
			})
		}
	}

	if update.Name != "" {
		tr.Name = update.Name
	}
	tr.Description = update.Description
	tr.Conditions = update.Conditions
	tr.RequiredPermissions = update.RequiredPermissions
	tr.Automatic = update.Automatic
	if err := r.store.UpdateTransition(ctx, tr); err != nil {
		return model.Transition{}, err
	}
	return tr, nil
}

// DeleteTransition removes a transition from an inactive workflow.
func (r *Registry) DeleteTransition(ctx context.Context, transitionID string) error {
	tr, err := r.store.GetTransition(ctx, transitionID)
	if err != nil {
		return err
	}
	if _, err := r.requireInactive(ctx, tr.WorkflowID); err != nil {
		return err
	}
	return r.store.DeleteTransition(ctx, transitionID)
}

// requireInactive loads a workflow and rejects the operation if it is
// active.
func (r *Registry) requireInactive(ctx context.Context, workflowID string) (model.Workflow, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}
	if wf.Active {
		return model.Workflow{}, model.NewWorkflowActiveError(wf.Name)
	}
	return wf, nil
}

func (r *Registry) recordAudit(ctx context.Context, action, resourceID string, actor model.Actor, after map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, model.AuditEntry{
		ID:           uuid.New().String(),
		Action:       action,
		ResourceType: "workflow",
		ResourceID:   resourceID,
		ActorID:      actor.ID,
		After:        after,
		CreatedAt:    time.Now().UTC(),
	})
}
