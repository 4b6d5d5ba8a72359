package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow-engine error codes.
const (
	ErrNoActiveWorkflow        = "NO_ACTIVE_WORKFLOW"
	ErrTransitionNotAvailable  = "TRANSITION_NOT_AVAILABLE"
	ErrTransitionNotAuthorized = "TRANSITION_NOT_AUTHORIZED"
	ErrInvalidWorkflowGraph    = "INVALID_WORKFLOW_GRAPH"
	ErrWorkflowActive          = "WORKFLOW_ACTIVE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	Issues  []string     `json:"issues,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewNoActiveWorkflowError returns a NO_ACTIVE_WORKFLOW error for the given
// application type.
func NewNoActiveWorkflowError(applicationType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoActiveWorkflow,
		Message: fmt.Sprintf("no active workflow for application type %q", applicationType),
	}
}

// NewTransitionNotAvailableError returns a TRANSITION_NOT_AVAILABLE error.
// The issues list carries the unmet requirements for the caller to surface.
func NewTransitionNotAvailableError(transitionName string, issues []string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTransitionNotAvailable,
		Message: fmt.Sprintf("transition %q is not currently available", transitionName),
		Issues:  issues,
	}
}

// NewTransitionNotAuthorizedError returns a TRANSITION_NOT_AUTHORIZED error.
func NewTransitionNotAuthorizedError(transitionName string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTransitionNotAuthorized,
		Message: fmt.Sprintf("actor lacks permission for transition %q", transitionName),
	}
}

// NewInvalidWorkflowGraphError returns an INVALID_WORKFLOW_GRAPH error
// carrying the full validator issue list.
func NewInvalidWorkflowGraphError(issues []string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidWorkflowGraph,
		Message: "workflow graph failed structural validation",
		Issues:  issues,
	}
}

// NewWorkflowActiveError returns a WORKFLOW_ACTIVE error for edit or delete
// attempts on an active workflow.
func NewWorkflowActiveError(workflowName string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowActive,
		Message: fmt.Sprintf("workflow %q is active and cannot be modified", workflowName),
	}
}
