package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enrollflow/enrollflow/model"
)

// PgStore is a PostgreSQL-backed ledger Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL ledger store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateApplication inserts a new application.
func (s *PgStore) CreateApplication(ctx context.Context, app model.Application) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications (id, type, applicant_id, current_status_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		app.ID, app.Type, app.ApplicantID, app.CurrentStatusID, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by ID.
func (s *PgStore) GetApplication(ctx context.Context, id string) (model.Application, error) {
	var app model.Application
	var current *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, applicant_id, current_status_id, created_at, updated_at
		FROM applications WHERE id = $1`, id,
	).Scan(&app.ID, &app.Type, &app.ApplicantID, &current, &app.CreatedAt, &app.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Application{}, model.NewNotFoundError(fmt.Sprintf("application %q not found", id))
	}
	if err != nil {
		return model.Application{}, fmt.Errorf("query application: %w", err)
	}
	if current != nil {
		app.CurrentStatusID = *current
	}
	return app, nil
}

// ListApplications returns all applications ordered by creation time.
func (s *PgStore) ListApplications(ctx context.Context) ([]model.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, applicant_id, current_status_id, created_at, updated_at
		FROM applications ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var out []model.Application
	for rows.Next() {
		var app model.Application
		var current *string
		if err := rows.Scan(&app.ID, &app.Type, &app.ApplicantID, &current,
			&app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		if current != nil {
			app.CurrentStatusID = *current
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// DeleteApplication removes an application; statuses and documents cascade
// via foreign keys.
func (s *PgStore) DeleteApplication(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("application %q not found", id))
	}
	return nil
}

// AppendStatus performs the atomic status append: row insert, pointer
// repoint, and audit write in one transaction, guarded by a row lock on
// the application so concurrent writers serialize.
func (s *PgStore) AppendStatus(ctx context.Context, status model.ApplicationStatus, expectedCurrentID string, audit model.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append status: %w", err)
	}
	defer tx.Rollback(ctx)

	var current *string
	err = tx.QueryRow(ctx, `
		SELECT current_status_id FROM applications WHERE id = $1 FOR UPDATE`,
		status.ApplicationID,
	).Scan(&current)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("application %q not found", status.ApplicationID))
	}
	if err != nil {
		return fmt.Errorf("lock application: %w", err)
	}

	got := ""
	if current != nil {
		got = *current
	}
	if got != expectedCurrentID {
		if expectedCurrentID == "" {
			return model.NewConflictError(
				fmt.Sprintf("application %q is already initialized", status.ApplicationID),
			)
		}
		return model.NewConflictError(
			fmt.Sprintf("application %q was modified concurrently", status.ApplicationID),
		)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO application_statuses (id, application_id, stage_id, label, notes, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		status.ID, status.ApplicationID, status.StageID, status.Label,
		status.Notes, status.ActorID, status.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE applications SET current_status_id = $1, updated_at = $2 WHERE id = $3`,
		status.ID, time.Now().UTC(), status.ApplicationID,
	); err != nil {
		return fmt.Errorf("repoint current status: %w", err)
	}

	before, err := json.Marshal(audit.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before: %w", err)
	}
	after, err := json.Marshal(audit.After)
	if err != nil {
		return fmt.Errorf("marshal audit after: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_log (id, action, resource_type, resource_id, actor_id, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		audit.ID, audit.Action, audit.ResourceType, audit.ResourceID,
		audit.ActorID, before, after, audit.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return tx.Commit(ctx)
}

// GetStatus retrieves one status row by ID.
func (s *PgStore) GetStatus(ctx context.Context, id string) (model.ApplicationStatus, error) {
	var st model.ApplicationStatus
	err := s.pool.QueryRow(ctx, `
		SELECT id, application_id, stage_id, label, notes, actor_id, created_at
		FROM application_statuses WHERE id = $1`, id,
	).Scan(&st.ID, &st.ApplicationID, &st.StageID, &st.Label, &st.Notes, &st.ActorID, &st.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.ApplicationStatus{}, model.NewNotFoundError(fmt.Sprintf("status %q not found", id))
	}
	if err != nil {
		return model.ApplicationStatus{}, fmt.Errorf("query status: %w", err)
	}
	return st, nil
}

// History returns the status timeline for an application.
func (s *PgStore) History(ctx context.Context, applicationID string, descending bool) ([]model.ApplicationStatus, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, application_id, stage_id, label, notes, actor_id, created_at
		FROM application_statuses
		WHERE application_id = $1
		ORDER BY created_at `+order+`, id `+order,
		applicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []model.ApplicationStatus
	for rows.Next() {
		var st model.ApplicationStatus
		if err := rows.Scan(&st.ID, &st.ApplicationID, &st.StageID, &st.Label,
			&st.Notes, &st.ActorID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// AddDocument upserts a document by (application, type). Re-upload resets
// the verified flag to the incoming value.
func (s *PgStore) AddDocument(ctx context.Context, doc model.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (application_id, type, verified, uploaded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id, type)
		DO UPDATE SET verified = EXCLUDED.verified, uploaded_at = EXCLUDED.uploaded_at`,
		doc.ApplicationID, doc.Type, doc.Verified, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// SetDocumentVerified flips the verification flag of a document.
func (s *PgStore) SetDocumentVerified(ctx context.Context, applicationID, docType string, verified bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET verified = $1 WHERE application_id = $2 AND type = $3`,
		verified, applicationID, docType,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("document %q not found for application %q", docType, applicationID),
		)
	}
	return nil
}

// DocumentsFor returns the documents associated with an application.
func (s *PgStore) DocumentsFor(ctx context.Context, applicationID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT application_id, type, verified, uploaded_at
		FROM documents WHERE application_id = $1 ORDER BY uploaded_at ASC`,
		applicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ApplicationID, &doc.Type, &doc.Verified, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
