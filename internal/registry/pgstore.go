package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enrollflow/enrollflow/model"
)

// PgStore is a PostgreSQL-backed registry Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL registry store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateWorkflow inserts a new workflow.
func (s *PgStore) CreateWorkflow(ctx context.Context, wf model.Workflow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, description, application_type, active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wf.ID, wf.Name, wf.Description, wf.ApplicationType, wf.Active, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *PgStore) GetWorkflow(ctx context.Context, id string) (model.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, application_type, active, created_by, created_at, updated_at
		FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row, id)
}

// ListWorkflows returns all workflows ordered by creation time.
func (s *PgStore) ListWorkflows(ctx context.Context) ([]model.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, application_type, active, created_by, created_at, updated_at
		FROM workflows ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var out []model.Workflow
	for rows.Next() {
		var wf model.Workflow
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.ApplicationType,
			&wf.Active, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// UpdateWorkflow persists workflow changes.
func (s *PgStore) UpdateWorkflow(ctx context.Context, wf model.Workflow) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET name = $1, description = $2, updated_at = $3 WHERE id = $4`,
		wf.Name, wf.Description, time.Now().UTC(), wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", wf.ID))
	}
	return nil
}

// DeleteWorkflow removes a workflow; stages and transitions cascade via
// foreign keys.
func (s *PgStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	return nil
}

// ActiveWorkflow returns the active workflow for an application type.
func (s *PgStore) ActiveWorkflow(ctx context.Context, applicationType string) (model.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, application_type, active, created_by, created_at, updated_at
		FROM workflows WHERE application_type = $1 AND active = TRUE`, applicationType)

	var wf model.Workflow
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.ApplicationType,
		&wf.Active, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Workflow{}, model.NewNotFoundError(
			fmt.Sprintf("no active workflow for application type %q", applicationType),
		)
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("query active workflow: %w", err)
	}
	return wf, nil
}

// SetActive activates a workflow and deactivates the previously active one
// of the same type in a single transaction, so there is no window with
// zero or two active workflows for the type.
func (s *PgStore) SetActive(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback(ctx)

	var applicationType string
	err = tx.QueryRow(ctx, `SELECT application_type FROM workflows WHERE id = $1 FOR UPDATE`, id).
		Scan(&applicationType)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return fmt.Errorf("lock workflow: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE workflows SET active = FALSE, updated_at = $1
		WHERE application_type = $2 AND active = TRUE AND id <> $3`,
		now, applicationType, id,
	); err != nil {
		return fmt.Errorf("deactivate previous workflow: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workflows SET active = TRUE, updated_at = $1 WHERE id = $2`,
		now, id,
	); err != nil {
		return fmt.Errorf("activate workflow: %w", err)
	}

	return tx.Commit(ctx)
}

// SetInactive deactivates a workflow.
func (s *PgStore) SetInactive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	return nil
}

// CreateStage inserts a new stage.
func (s *PgStore) CreateStage(ctx context.Context, st model.Stage) error {
	notifications, err := json.Marshal(st.Notifications)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stages (id, workflow_id, name, description, sequence,
			required_documents, required_actions, notifications, assigned_role,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		st.ID, st.WorkflowID, st.Name, st.Description, st.Sequence,
		st.RequiredDocuments, st.RequiredActions, notifications, st.AssignedRole,
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

// GetStage retrieves a stage by ID.
func (s *PgStore) GetStage(ctx context.Context, id string) (model.Stage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, name, description, sequence,
		       required_documents, required_actions, notifications, assigned_role,
		       created_at, updated_at
		FROM stages WHERE id = $1`, id)
	return scanStage(row, id)
}

// UpdateStage persists stage changes.
func (s *PgStore) UpdateStage(ctx context.Context, st model.Stage) error {
	notifications, err := json.Marshal(st.Notifications)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stages SET name = $1, description = $2,
			required_documents = $3, required_actions = $4,
			notifications = $5, assigned_role = $6, updated_at = $7
		WHERE id = $8`,
		st.Name, st.Description, st.RequiredDocuments, st.RequiredActions,
		notifications, st.AssignedRole, time.Now().UTC(), st.ID,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("stage %q not found", st.ID))
	}
	return nil
}

// DeleteStage removes a stage, cascades to transitions touching it, and
// re-sequences the remaining stages, all in one transaction.
func (s *PgStore) DeleteStage(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete stage: %w", err)
	}
	defer tx.Rollback(ctx)

	var workflowID string
	err = tx.QueryRow(ctx, `SELECT workflow_id FROM stages WHERE id = $1`, id).Scan(&workflowID)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("stage %q not found", id))
	}
	if err != nil {
		return fmt.Errorf("load stage: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM transitions WHERE source_stage_id = $1 OR target_stage_id = $1`, id); err != nil {
		return fmt.Errorf("delete touching transitions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE stages SET sequence = ranked.new_sequence
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY sequence ASC) AS new_sequence
			FROM stages WHERE workflow_id = $1
		) ranked
		WHERE stages.id = ranked.id`, workflowID); err != nil {
		return fmt.Errorf("resequence stages: %w", err)
	}

	return tx.Commit(ctx)
}

// StagesFor returns the stages of a workflow ordered by sequence.
func (s *PgStore) StagesFor(ctx context.Context, workflowID string) ([]model.Stage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, name, description, sequence,
		       required_documents, required_actions, notifications, assigned_role,
		       created_at, updated_at
		FROM stages WHERE workflow_id = $1 ORDER BY sequence ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []model.Stage
	for rows.Next() {
		st, err := scanStage(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReorderStages re-assigns sequence numbers following the given ID order.
func (s *PgStore) ReorderStages(ctx context.Context, workflowID string, orderedIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM stages WHERE workflow_id = $1`, workflowID).Scan(&count); err != nil {
		return fmt.Errorf("count stages: %w", err)
	}
	if count != len(orderedIDs) {
		return model.NewBadRequestError(
			fmt.Sprintf("reorder must list all %d stages, got %d", count, len(orderedIDs)),
		)
	}

	now := time.Now().UTC()
	for i, id := range orderedIDs {
		tag, err := tx.Exec(ctx, `
			UPDATE stages SET sequence = $1, updated_at = $2
			WHERE id = $3 AND workflow_id = $4`,
			i+1, now, id, workflowID,
		)
		if err != nil {
			return fmt.Errorf("reorder stage %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewBadRequestError(
				fmt.Sprintf("stage %q does not belong to workflow %q", id, workflowID),
			)
		}
	}

	return tx.Commit(ctx)
}

// CreateTransition inserts a new transition.
func (s *PgStore) CreateTransition(ctx context.Context, tr model.Transition) error {
	conditions, err := json.Marshal(tr.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO transitions (id, workflow_id, source_stage_id, target_stage_id,
			name, description, conditions, required_permissions, automatic, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tr.ID, tr.WorkflowID, tr.SourceStageID, tr.TargetStageID,
		tr.Name, tr.Description, conditions, tr.RequiredPermissions,
		tr.Automatic, tr.Priority, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetTransition retrieves a transition by ID.
func (s *PgStore) GetTransition(ctx context.Context, id string) (model.Transition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, source_stage_id, target_stage_id,
		       name, description, conditions, required_permissions, automatic, priority, created_at
		FROM transitions WHERE id = $1`, id)
	return scanTransition(row, id)
}

// UpdateTransition persists transition changes.
func (s *PgStore) UpdateTransition(ctx context.Context, tr model.Transition) error {
	conditions, err := json.Marshal(tr.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE transitions SET name = $1, description = $2, conditions = $3,
			required_permissions = $4, automatic = $5
		WHERE id = $6`,
		tr.Name, tr.Description, conditions, tr.RequiredPermissions, tr.Automatic, tr.ID,
	)
	if err != nil {
		return fmt.Errorf("update transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", tr.ID))
	}
	return nil
}

// DeleteTransition removes a transition.
func (s *PgStore) DeleteTransition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("transition %q not found", id))
	}
	return nil
}

// TransitionsFor returns the transitions of a workflow ordered by priority.
func (s *PgStore) TransitionsFor(ctx context.Context, workflowID string) ([]model.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, source_stage_id, target_stage_id,
		       name, description, conditions, required_permissions, automatic, priority, created_at
		FROM transitions WHERE workflow_id = $1 ORDER BY priority ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		tr, err := scanTransition(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// NextPriority returns max(priority)+1 for the workflow's transitions.
func (s *PgStore) NextPriority(ctx context.Context, workflowID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(priority), 0) + 1 FROM transitions WHERE workflow_id = $1`,
		workflowID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query next priority: %w", err)
	}
	return next, nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner, id string) (model.Workflow, error) {
	var wf model.Workflow
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.ApplicationType,
		&wf.Active, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("scan workflow: %w", err)
	}
	return wf, nil
}

func scanStage(row rowScanner, id string) (model.Stage, error) {
	var st model.Stage
	var notifications []byte
	err := row.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.Description, &st.Sequence,
		&st.RequiredDocuments, &st.RequiredActions, &notifications, &st.AssignedRole,
		&st.CreatedAt, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Stage{}, model.NewNotFoundError(fmt.Sprintf("stage %q not found", id))
	}
	if err != nil {
		return model.Stage{}, fmt.Errorf("scan stage: %w", err)
	}
	if notifications != nil {
		if err := json.Unmarshal(notifications, &st.Notifications); err != nil {
			return model.Stage{}, fmt.Errorf("unmarshal notifications: %w", err)
		}
	}
	return st, nil
}

func scanTransition(row rowScanner, id string) (model.Transition, error) {
	var tr model.Transition
	var conditions []byte
	err := row.Scan(&tr.ID, &tr.WorkflowID, &tr.SourceStageID, &tr.TargetStageID,
		&tr.Name, &tr.Description, &conditions, &tr.RequiredPermissions,
		&tr.Automatic, &tr.Priority, &tr.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.Transition{}, model.NewNotFoundError(fmt.Sprintf("transition %q not found", id))
	}
	if err != nil {
		return model.Transition{}, fmt.Errorf("scan transition: %w", err)
	}
	if conditions != nil {
		if err := json.Unmarshal(conditions, &tr.Conditions); err != nil {
			return model.Transition{}, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	return tr, nil
}
