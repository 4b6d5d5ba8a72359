package model

import "time"

// Workflow is a named, versioned admissions process bound to exactly one
// application type. At most one workflow per application type is active at
// any time; activation atomically deactivates the previous one.
type Workflow struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	ApplicationType string    `json:"application_type"`
	Active          bool      `json:"active"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Stage is a node in a workflow's graph: one step of the admissions
// process. Initial/final are derived from the transition topology, never
// stored.
type Stage struct {
	ID                string                `json:"id"`
	WorkflowID        string                `json:"workflow_id"`
	Name              string                `json:"name"`
	Description       string                `json:"description,omitempty"`
	Sequence          int                   `json:"sequence"`
	RequiredDocuments []string              `json:"required_documents,omitempty"`
	RequiredActions   []string              `json:"required_actions,omitempty"`
	Notifications     []NotificationTrigger `json:"notifications,omitempty"`
	AssignedRole      string                `json:"assigned_role,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NotificationTrigger describes an event-to-template binding a stage emits
// to downstream messaging systems. The engine only carries these; delivery
// is out of scope.
type NotificationTrigger struct {
	Event         string `json:"event"`
	TemplateID    string `json:"template_id"`
	RecipientRole string `json:"recipient_role"`
}

// Transition is a directed, conditionally gated edge between two stages of
// the same workflow. Priority equals creation order and breaks ties among
// automatic transitions.
type Transition struct {
	ID                  string      `json:"id"`
	WorkflowID          string      `json:"workflow_id"`
	SourceStageID       string      `json:"source_stage_id"`
	TargetStageID       string      `json:"target_stage_id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	Conditions          []Condition `json:"conditions,omitempty"`
	RequiredPermissions []string    `json:"required_permissions,omitempty"`
	Automatic           bool        `json:"automatic"`
	Priority            int         `json:"priority"`
	CreatedAt           time.Time   `json:"created_at"`
}
