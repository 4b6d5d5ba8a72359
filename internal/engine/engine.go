// Package engine executes workflow transitions against applications: it
// gates manual transitions on availability and permission, appends the
// resulting status atomically, emits domain events, and propagates
// automatic transitions until the chain settles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/authz"
	"github.com/enrollflow/enrollflow/internal/graph"
	"github.com/enrollflow/enrollflow/internal/ledger"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/internal/registry"
	"github.com/enrollflow/enrollflow/internal/requirement"
	"github.com/enrollflow/enrollflow/model"
)

// Deps bundles the collaborators an Engine needs.
type Deps struct {
	Registry   *registry.Registry
	Ledger     ledger.Store
	Evaluator  *requirement.Evaluator
	Authorizer *authz.Authorizer
	Events     model.EventSink
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Engine drives applications through workflow graphs.
type Engine struct {
	registry   *registry.Registry
	ledger     ledger.Store
	evaluator  *requirement.Evaluator
	authorizer *authz.Authorizer
	events     model.EventSink
	logger     *zap.Logger
	metrics    *observability.Metrics

	// Per-application locks serialize transition execution so the
	// compare-and-swap on the current-status pointer only trips on
	// cross-process races.
	locks sync.Map
}

// NewEngine creates an Engine. Metrics may be nil.
func NewEngine(deps Deps) *Engine {
	return &Engine{
		registry:   deps.Registry,
		ledger:     deps.Ledger,
		evaluator:  deps.Evaluator,
		authorizer: deps.Authorizer,
		events:     deps.Events,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
}

func (e *Engine) lockApplication(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// TransitionView describes one outgoing transition of an application's
// current stage, annotated with whether it can run right now and why not.
type TransitionView struct {
	Transition model.Transition `json:"transition"`
	TargetName string           `json:"target_name"`
	Available  bool             `json:"available"`
	Authorized bool             `json:"authorized"`
	Issues     []string         `json:"issues,omitempty"`
}

// InitializeWorkflow places an application on the active workflow for its
// type, appending the initial status and running any automatic transitions
// out of the initial stage.
func (e *Engine) InitializeWorkflow(ctx context.Context, applicationID string, actor model.Actor) (model.ApplicationStatus, error) {
	unlock := e.lockApplication(applicationID)
	defer unlock()

	ctx, span := observability.StartSpan(ctx, "engine.InitializeWorkflow",
		observability.AttrApplicationID.String(applicationID),
		observability.AttrSubjectID.String(actor.ID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	app, err := e.ledger.GetApplication(ctx, applicationID)
	if err != nil {
		return model.ApplicationStatus{}, err
	}
	if app.Initialized() {
		err = model.NewConflictError(
			fmt.Sprintf("application %q is already on a workflow", applicationID))
		return model.ApplicationStatus{}, err
	}

	wf, err := e.registry.ActiveWorkflow(ctx, app.Type)
	if err != nil {
		var envelope *model.ErrorEnvelope
		if errors.As(err, &envelope) && envelope.Code == model.ErrNotFound {
			err = model.NewNoActiveWorkflowError(app.Type)
		}
		return model.ApplicationStatus{}, err
	}

	g, err := e.registry.LoadGraph(ctx, wf.ID)
	if err != nil {
		return model.ApplicationStatus{}, err
	}

	initial, err := g.Initial()
	if err != nil {
		err = model.NewInvalidWorkflowGraphError([]string{err.Error()})
		return model.ApplicationStatus{}, err
	}

	status := model.ApplicationStatus{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		StageID:       initial.ID,
		Label:         initial.Name,
		ActorID:       actor.ID,
		CreatedAt:     time.Now().UTC(),
	}
	audit := model.AuditEntry{
		ID:           uuid.New().String(),
		Action:       model.AuditActionInitialize,
		ResourceType: "application",
		ResourceID:   app.ID,
		ActorID:      actor.ID,
		After: map[string]any{
			"workflow_id": wf.ID,
			"stage_id":    initial.ID,
			"status_id":   status.ID,
		},
		CreatedAt: status.CreatedAt,
	}

	if err = e.ledger.AppendStatus(ctx, status, "", audit); err != nil {
		return model.ApplicationStatus{}, err
	}

	e.events.StatusChanged(ctx, model.StatusChanged{
		ApplicationID: app.ID,
		New:           status,
	})
	if e.metrics != nil {
		e.metrics.InitializationsTotal.WithLabelValues(wf.Name).Inc()
	}
	e.logger.Info("application initialized",
		zap.String("application_id", app.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("stage_id", initial.ID),
		zap.String("actor_id", actor.ID),
	)

	return e.propagate(ctx, g, app, status)
}

// ExecuteTransition runs one manual transition for an application, then
// propagates automatic transitions from the target stage.
func (e *Engine) ExecuteTransition(ctx context.Context, applicationID, transitionID string, actor model.Actor, notes string) (model.ApplicationStatus, error) {
	unlock := e.lockApplication(applicationID)
	defer unlock()

	ctx, span := observability.StartSpan(ctx, "engine.ExecuteTransition",
		observability.AttrApplicationID.String(applicationID),
		observability.AttrTransitionID.String(transitionID),
		observability.AttrSubjectID.String(actor.ID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	app, g, current, err := e.loadExecutionState(ctx, applicationID)
	if err != nil {
		return model.ApplicationStatus{}, err
	}

	t, ok := g.Transition(transitionID)
	if !ok {
		err = model.NewNotFoundError(fmt.Sprintf("transition %q not found", transitionID))
		return model.ApplicationStatus{}, err
	}

	start := time.Now()
	next, err := e.executeOne(ctx, g, app, current, t, actor, notes)
	if e.metrics != nil {
		kind := "manual"
		outcome := "ok"
		if err != nil {
			outcome = outcomeLabel(err)
		}
		e.metrics.TransitionsTotal.WithLabelValues(g.Workflow().Name, kind, outcome).Inc()
		e.metrics.TransitionDuration.WithLabelValues(g.Workflow().Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return model.ApplicationStatus{}, err
	}

	return e.propagate(ctx, g, app, next)
}

// Reevaluate re-runs automatic-transition propagation from the
// application's current stage. Called after document uploads and
// verifications so condition changes take effect without manual action.
func (e *Engine) Reevaluate(ctx context.Context, applicationID string) (model.ApplicationStatus, error) {
	unlock := e.lockApplication(applicationID)
	defer unlock()

	app, g, current, err := e.loadExecutionState(ctx, applicationID)
	if err != nil {
		return model.ApplicationStatus{}, err
	}
	return e.propagate(ctx, g, app, current)
}

// RegisterDocument stores a document for an application and reevaluates
// its automatic transitions. Re-uploading a type resets its verification.
func (e *Engine) RegisterDocument(ctx context.Context, doc model.Document) error {
	if _, err := e.ledger.GetApplication(ctx, doc.ApplicationID); err != nil {
		return err
	}
	if err := e.ledger.AddDocument(ctx, doc); err != nil {
		return err
	}
	return e.reevaluateIfInitialized(ctx, doc.ApplicationID)
}

// VerifyDocument flips a document's verification flag and reevaluates the
// application's automatic transitions.
func (e *Engine) VerifyDocument(ctx context.Context, applicationID, docType string, verified bool) error {
	if err := e.ledger.SetDocumentVerified(ctx, applicationID, docType, verified); err != nil {
		return err
	}
	return e.reevaluateIfInitialized(ctx, applicationID)
}

func (e *Engine) reevaluateIfInitialized(ctx context.Context, applicationID string) error {
	app, err := e.ledger.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	if !app.Initialized() {
		return nil
	}
	_, err = e.Reevaluate(ctx, applicationID)
	return err
}

// CurrentStage returns the application's current stage and status row.
func (e *Engine) CurrentStage(ctx context.Context, applicationID string) (model.Stage, model.ApplicationStatus, error) {
	_, g, current, err := e.loadExecutionState(ctx, applicationID)
	if err != nil {
		return model.Stage{}, model.ApplicationStatus{}, err
	}
	stage, ok := g.Stage(current.StageID)
	if !ok {
		return model.Stage{}, model.ApplicationStatus{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found", current.StageID))
	}
	return stage, current, nil
}

// StatusHistory returns the application's status timeline.
func (e *Engine) StatusHistory(ctx context.Context, applicationID string, descending bool) ([]model.ApplicationStatus, error) {
	if _, err := e.ledger.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return e.ledger.History(ctx, applicationID, descending)
}

// AvailableTransitions lists the outgoing transitions of the application's
// current stage, each annotated with availability and authorization for
// the given actor.
func (e *Engine) AvailableTransitions(ctx context.Context, applicationID string, actor model.Actor) ([]TransitionView, error) {
	app, g, current, err := e.loadExecutionState(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	sourceStage, ok := g.Stage(current.StageID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("stage %q not found", current.StageID))
	}

	outgoing := g.Outgoing(current.StageID)
	views := make([]TransitionView, 0, len(outgoing))
	for _, t := range outgoing {
		available, issues, err := e.authorizer.IsAvailable(ctx, t, app, sourceStage)
		if err != nil {
			return nil, err
		}
		authorized, err := e.authorizer.UserHasPermission(ctx, t, actor)
		if err != nil {
			return nil, err
		}
		targetName := t.TargetStageID
		if target, ok := g.Stage(t.TargetStageID); ok {
			targetName = target.Name
		}
		views = append(views, TransitionView{
			Transition: t,
			TargetName: targetName,
			Available:  available,
			Authorized: authorized,
			Issues:     issues,
		})
	}
	return views, nil
}

// NextStages returns the stages reachable from the application's current
// stage through transitions that are available right now.
func (e *Engine) NextStages(ctx context.Context, applicationID string) ([]model.Stage, error) {
	app, g, current, err := e.loadExecutionState(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	sourceStage, ok := g.Stage(current.StageID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("stage %q not found", current.StageID))
	}

	seen := make(map[string]bool)
	var stages []model.Stage
	for _, t := range g.Outgoing(current.StageID) {
		if seen[t.TargetStageID] {
			continue
		}
		available, _, err := e.authorizer.IsAvailable(ctx, t, app, sourceStage)
		if err != nil {
			return nil, err
		}
		if !available {
			continue
		}
		seen[t.TargetStageID] = true
		if stage, ok := g.Stage(t.TargetStageID); ok {
			stages = append(stages, stage)
		}
	}
	return stages, nil
}

// loadExecutionState resolves the application, its workflow graph, and its
// current status. Applications stay on the workflow they were initialized
// with even after a different workflow becomes active for their type.
func (e *Engine) loadExecutionState(ctx context.Context, applicationID string) (model.Application, *graph.Graph, model.ApplicationStatus, error) {
	app, err := e.ledger.GetApplication(ctx, applicationID)
	if err != nil {
		return model.Application{}, nil, model.ApplicationStatus{}, err
	}
	if !app.Initialized() {
		return model.Application{}, nil, model.ApplicationStatus{},
			model.NewConflictError(fmt.Sprintf("application %q is not on a workflow", applicationID))
	}

	current, err := e.ledger.GetStatus(ctx, app.CurrentStatusID)
	if err != nil {
		return model.Application{}, nil, model.ApplicationStatus{}, err
	}

	stage, err := e.registry.Store().GetStage(ctx, current.StageID)
	if err != nil {
		return model.Application{}, nil, model.ApplicationStatus{}, err
	}

	g, err := e.registry.LoadGraph(ctx, stage.WorkflowID)
	if err != nil {
		return model.Application{}, nil, model.ApplicationStatus{}, err
	}
	return app, g, current, nil
}

// executeOne runs a single transition: availability gate, permission gate,
// atomic status append, event emission. The caller holds the application
// lock.
func (e *Engine) executeOne(ctx context.Context, g *graph.Graph, app model.Application, current model.ApplicationStatus, t model.Transition, actor model.Actor, notes string) (model.ApplicationStatus, error) {
	if t.SourceStageID != current.StageID {
		return model.ApplicationStatus{}, model.NewTransitionNotAvailableError(t.Name,
			[]string{fmt.Sprintf("application is not in stage %q", t.SourceStageID)})
	}

	sourceStage, ok := g.Stage(t.SourceStageID)
	if !ok {
		return model.ApplicationStatus{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found", t.SourceStageID))
	}
	targetStage, ok := g.Stage(t.TargetStageID)
	if !ok {
		return model.ApplicationStatus{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found", t.TargetStageID))
	}

	available, issues, err := e.authorizer.IsAvailable(ctx, t, app, sourceStage)
	if err != nil {
		return model.ApplicationStatus{}, err
	}
	if !available {
		return model.ApplicationStatus{}, model.NewTransitionNotAvailableError(t.Name, issues)
	}

	authorized, err := e.authorizer.UserHasPermission(ctx, t, actor)
	if err != nil {
		return model.ApplicationStatus{}, err
	}
	if !authorized {
		return model.ApplicationStatus{}, model.NewTransitionNotAuthorizedError(t.Name)
	}

	status := model.ApplicationStatus{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		StageID:       targetStage.ID,
		Label:         targetStage.Name,
		Notes:         notes,
		ActorID:       actor.ID,
		CreatedAt:     time.Now().UTC(),
	}
	audit := model.AuditEntry{
		ID:           uuid.New().String(),
		Action:       model.AuditActionTransition,
		ResourceType: "application",
		ResourceID:   app.ID,
		ActorID:      actor.ID,
		Before: map[string]any{
			"stage_id":  current.StageID,
			"status_id": current.ID,
		},
		After: map[string]any{
			"stage_id":      targetStage.ID,
			"status_id":     status.ID,
			"transition_id": t.ID,
			"automatic":     actor.System,
		},
		CreatedAt: status.CreatedAt,
	}

	if err := e.ledger.AppendStatus(ctx, status, current.ID, audit); err != nil {
		return model.ApplicationStatus{}, err
	}

	previous := current
	e.events.StageCompleted(ctx, model.StageCompleted{
		ApplicationID: app.ID,
		StageID:       sourceStage.ID,
		StageName:     sourceStage.Name,
	})
	e.events.StatusChanged(ctx, model.StatusChanged{
		ApplicationID: app.ID,
		Previous:      &previous,
		New:           status,
	})

	e.logger.Info("transition executed",
		zap.String("application_id", app.ID),
		zap.String("transition_id", t.ID),
		zap.String("from_stage", sourceStage.ID),
		zap.String("to_stage", targetStage.ID),
		zap.String("actor_id", actor.ID),
		zap.Bool("automatic", actor.System),
	)

	return status, nil
}

// propagate executes automatic transitions out of the current stage until
// none is available, a terminal stage is reached, or the iteration cap
// trips. The cap equals the workflow's stage count: any longer chain has
// revisited a stage. A tripped cap leaves the application at its last
// committed status and never surfaces as an error.
func (e *Engine) propagate(ctx context.Context, g *graph.Graph, app model.Application, current model.ApplicationStatus) (model.ApplicationStatus, error) {
	limit := g.StageCount()
	depth := 0

	for depth < limit {
		next, executed, err := e.stepAutomatic(ctx, g, app, current)
		if err != nil {
			// The triggering write already committed. Halting here
			// leaves the application at a valid, persisted stage; the
			// next reevaluation picks the propagation back up.
			e.logger.Warn("automatic propagation halted",
				zap.String("application_id", app.ID),
				zap.String("workflow_id", g.Workflow().ID),
				zap.String("stage_id", current.StageID),
				zap.Int("depth", depth),
				zap.Error(err),
			)
			if e.metrics != nil {
				e.metrics.PropagationDepth.Observe(float64(depth))
			}
			return current, nil
		}
		if !executed {
			break
		}
		current = next
		depth++
	}

	if depth >= limit {
		e.logger.Warn("automatic transition cap reached, likely cycle",
			zap.String("application_id", app.ID),
			zap.String("workflow_id", g.Workflow().ID),
			zap.String("stage_id", current.StageID),
			zap.Int("depth", depth),
		)
		if e.metrics != nil {
			e.metrics.PropagationLoopsTotal.Inc()
		}
	}
	if e.metrics != nil {
		e.metrics.PropagationDepth.Observe(float64(depth))
	}
	return current, nil
}

// stepAutomatic executes the highest-priority available automatic
// transition out of the current stage, if any.
func (e *Engine) stepAutomatic(ctx context.Context, g *graph.Graph, app model.Application, current model.ApplicationStatus) (model.ApplicationStatus, bool, error) {
	sourceStage, ok := g.Stage(current.StageID)
	if !ok {
		return current, false, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found", current.StageID))
	}

	for _, t := range g.Outgoing(current.StageID) {
		if !t.Automatic {
			continue
		}
		available, _, err := e.authorizer.IsAvailable(ctx, t, app, sourceStage)
		if err != nil {
			return current, false, err
		}
		if !available {
			continue
		}

		start := time.Now()
		next, err := e.executeOne(ctx, g, app, current, t, model.SystemActor(), "")
		if e.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = outcomeLabel(err)
			}
			e.metrics.TransitionsTotal.WithLabelValues(g.Workflow().Name, "automatic", outcome).Inc()
			e.metrics.TransitionDuration.WithLabelValues(g.Workflow().Name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return current, false, err
		}
		return next, true, nil
	}
	return current, false, nil
}

// outcomeLabel maps an error to a low-cardinality metric label.
func outcomeLabel(err error) string {
	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) {
		switch envelope.Code {
		case model.ErrTransitionNotAvailable:
			return "unavailable"
		case model.ErrTransitionNotAuthorized:
			return "unauthorized"
		case model.ErrConflict:
			return "conflict"
		}
	}
	return "error"
}
