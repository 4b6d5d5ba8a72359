// Package ledger persists applications, their documents, and the
// append-only status history. Status rows are immutable: the only write
// path is AppendStatus, which atomically creates the row, repoints the
// application's current-status pointer, and records the audit entry.
package ledger

import (
	"context"

	"github.com/enrollflow/enrollflow/model"
)

// Store persists applications and their status timeline.
type Store interface {
	// CreateApplication persists a new application.
	CreateApplication(ctx context.Context, app model.Application) error

	// GetApplication retrieves an application by ID.
	GetApplication(ctx context.Context, id string) (model.Application, error)

	// ListApplications returns all applications ordered by creation time.
	ListApplications(ctx context.Context) ([]model.Application, error)

	// DeleteApplication removes an application, cascading to its status
	// rows and documents. This is the only way status rows ever go away.
	DeleteApplication(ctx context.Context, id string) error

	// AppendStatus atomically creates the status row, repoints the
	// application's current-status pointer, and writes the audit entry in
	// the same transaction. expectedCurrentID is a compare-and-swap
	// guard: the append fails with CONFLICT if the application's current
	// status no longer matches (concurrent writer), and with CONFLICT if
	// expectedCurrentID is empty but the application already has one
	// (double initialization).
	AppendStatus(ctx context.Context, status model.ApplicationStatus, expectedCurrentID string, audit model.AuditEntry) error

	// GetStatus retrieves one status row by ID.
	GetStatus(ctx context.Context, id string) (model.ApplicationStatus, error)

	// History returns all status rows for an application ordered by
	// creation time, ascending by default or descending for latest-first
	// views.
	History(ctx context.Context, applicationID string, descending bool) ([]model.ApplicationStatus, error)

	// AddDocument associates a document with an application. Re-uploading
	// the same type replaces the previous document, unverified.
	AddDocument(ctx context.Context, doc model.Document) error

	// SetDocumentVerified flips the verification flag of a document.
	SetDocumentVerified(ctx context.Context, applicationID, docType string, verified bool) error

	// DocumentsFor returns the documents associated with an application.
	// Satisfies requirement.DocumentSource.
	DocumentsFor(ctx context.Context, applicationID string) ([]model.Document, error)
}
