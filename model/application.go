package model

import "time"

// Application is a prospective-student record moving through a workflow.
// The engine consumes its type and document set; it owns only the
// current-status pointer and the status history.
type Application struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	ApplicantID     string    `json:"applicant_id,omitempty"`
	CurrentStatusID string    `json:"current_status_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Initialized reports whether the application has been placed on a
// workflow (has at least one status).
func (a *Application) Initialized() bool {
	return a.CurrentStatusID != ""
}

// ApplicationStatus is one immutable record of an application having
// reached a stage. Rows are appended, never updated; the application's
// current-status pointer always references the most recent row.
type ApplicationStatus struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	StageID       string    `json:"stage_id"`
	// Label is the stage name denormalized at creation time, so the
	// timeline stays meaningful after stage renames.
	Label     string    `json:"label"`
	Notes     string    `json:"notes,omitempty"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a file associated with an application, as seen by the
// requirement evaluator: a type identifier and a verification flag.
type Document struct {
	ApplicationID string    `json:"application_id"`
	Type          string    `json:"type"`
	Verified      bool      `json:"verified"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// AuditEntry is a structured record of a mutating engine operation,
// delivered to the audit sink and, for status changes, written in the same
// transaction as the status append.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Audit action names.
const (
	AuditActionInitialize = "workflow.initialize"
	AuditActionTransition = "workflow.transition"
	AuditActionActivate   = "workflow.activate"
	AuditActionDeactivate = "workflow.deactivate"
)

// StatusChanged is the domain event emitted after every status append.
// Previous is nil for the initial status.
type StatusChanged struct {
	ApplicationID string             `json:"application_id"`
	Previous      *ApplicationStatus `json:"previous,omitempty"`
	New           ApplicationStatus  `json:"new"`
}

// StageCompleted is emitted when an application leaves a stage.
type StageCompleted struct {
	ApplicationID string         `json:"application_id"`
	StageID       string         `json:"stage_id"`
	StageName     string         `json:"stage_name"`
	Completion    map[string]any `json:"completion,omitempty"`
}
