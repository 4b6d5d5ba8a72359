// Package registry manages workflow definitions: the graphs themselves,
// their stages and transitions, and the at-most-one-active-per-type
// invariant that selects which workflow governs new applications.
package registry

import (
	"context"

	"github.com/enrollflow/enrollflow/model"
)

// Store persists workflows, stages, and transitions.
type Store interface {
	// CreateWorkflow persists a new workflow.
	CreateWorkflow(ctx context.Context, wf model.Workflow) error

	// GetWorkflow retrieves a workflow by ID. Returns NOT_FOUND if absent.
	GetWorkflow(ctx context.Context, id string) (model.Workflow, error)

	// ListWorkflows returns all workflows ordered by creation time.
	ListWorkflows(ctx context.Context) ([]model.Workflow, error)

	// UpdateWorkflow persists name/description changes.
	UpdateWorkflow(ctx context.Context, wf model.Workflow) error

	// DeleteWorkflow removes a workflow and cascades to its stages and
	// transitions.
	DeleteWorkflow(ctx context.Context, id string) error

	// ActiveWorkflow returns the active workflow for an application type.
	// Returns NOT_FOUND if none is active.
	ActiveWorkflow(ctx context.Context, applicationType string) (model.Workflow, error)

	// SetActive atomically activates the given workflow and deactivates
	// any previously active workflow of the same application type. There
	// is never an observation point with zero or two active workflows
	// for a type.
	SetActive(ctx context.Context, id string) error

	// SetInactive deactivates the given workflow.
	SetInactive(ctx context.Context, id string) error

	// CreateStage persists a new stage.
	CreateStage(ctx context.Context, st model.Stage) error

	// GetStage retrieves a stage by ID.
	GetStage(ctx context.Context, id string) (model.Stage, error)

	// UpdateStage persists stage changes.
	UpdateStage(ctx context.Context, st model.Stage) error

	// DeleteStage removes a stage, cascades to transitions touching it,
	// and re-sequences the remaining stages of the workflow.
	DeleteStage(ctx context.Context, id string) error

	// StagesFor returns all stages of a workflow ordered by sequence.
	StagesFor(ctx context.Context, workflowID string) ([]model.Stage, error)

	// ReorderStages re-assigns sequence numbers following the given stage
	// ID order. Every stage of the workflow must appear exactly once.
	ReorderStages(ctx context.Context, workflowID string, orderedIDs []string) error

	// CreateTransition persists a new transition. Priority must already be
	// assigned (creation order).
	CreateTransition(ctx context.Context, tr model.Transition) error

	// GetTransition retrieves a transition by ID.
	GetTransition(ctx context.Context, id string) (model.Transition, error)

	// UpdateTransition persists transition changes.
	UpdateTransition(ctx context.Context, tr model.Transition) error

	// DeleteTransition removes a transition.
	DeleteTransition(ctx context.Context, id string) error

	// TransitionsFor returns all transitions of a workflow ordered by
	// priority.
	TransitionsFor(ctx context.Context, workflowID string) ([]model.Transition, error)

	// NextPriority returns the next transition priority (creation order)
	// for a workflow.
	NextPriority(ctx context.Context, workflowID string) (int, error)
}
