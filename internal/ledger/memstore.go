package ledger

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
	mu           sync.RWMutex
	applications map[string]model.Application
	statuses     map[string][]model.ApplicationStatus // key: application ID, append order
	documents    map[string][]model.Document          // key: application ID
	audits       []model.AuditEntry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]model.Application),
		statuses:     make(map[string][]model.ApplicationStatus),
		documents:    make(map[string][]model.Document),
	}
}

// CreateApplication persists a new application.
func (s *MemoryStore) CreateApplication(_ context.Context, app model.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[app.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("application %q already exists", app.ID))
	}
	s.applications[app.ID] = app
	return nil
}

// GetApplication retrieves an application by ID.
func (s *MemoryStore) GetApplication(_ context.Context, id string) (model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, exists := s.applications[id]
	if !exists {
		return model.Application{}, model.NewNotFoundError(fmt.Sprintf("application %q not found", id))
	}
	return app, nil
}

// ListApplications returns all applications ordered by creation time.
func (s *MemoryStore) ListApplications(_ context.Context) ([]model.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Application, 0, len(s.applications))
	for _, app := range s.applications {
		out = append(out, app)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteApplication removes an application and everything it owns.
func (s *MemoryStore) DeleteApplication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("application %q not found", id))
	}
	delete(s.applications, id)
	delete(s.statuses, id)
	delete(s.documents, id)
	return nil
}

// AppendStatus appends a status row and repoints the current-status
// pointer under the compare-and-swap guard.
func (s *MemoryStore) AppendStatus(_ context.Context, status model.ApplicationStatus, expectedCurrentID string, audit model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, exists := s.applications[status.ApplicationID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("application %q not found", status.ApplicationID))
	}
	if app.CurrentStatusID != expectedCurrentID {
		if expectedCurrentID == "" {
			return model.NewConflictError(
				fmt.Sprintf("application %q is already initialized", status.ApplicationID),
			)
		}
		return model.NewConflictError(
			fmt.Sprintf("application %q was modified concurrently", status.ApplicationID),
		)
	}

	s.statuses[status.ApplicationID] = append(s.statuses[status.ApplicationID], status)
	app.CurrentStatusID = status.ID
	app.UpdatedAt = time.Now().UTC()
	s.applications[status.ApplicationID] = app
	s.audits = append(s.audits, audit)
	return nil
}

// GetStatus retrieves one status row by ID.
func (s *MemoryStore) GetStatus(_ context.Context, id string) (model.ApplicationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rows := range s.statuses {
		for _, st := range rows {
			if st.ID == id {
				return st, nil
			}
		}
	}
	return model.ApplicationStatus{}, model.NewNotFoundError(fmt.Sprintf("status %q not found", id))
}

// History returns status rows in append order (or reversed).
func (s *MemoryStore) History(_ context.Context, applicationID string, descending bool) ([]model.ApplicationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.applications[applicationID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("application %q not found", applicationID))
	}

	rows := s.statuses[applicationID]
	out := make([]model.ApplicationStatus, len(rows))
	copy(out, rows)
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// AddDocument associates a document, replacing any previous one of the
// same type.
func (s *MemoryStore) AddDocument(_ context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[doc.ApplicationID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("application %q not found", doc.ApplicationID))
	}

	docs := s.documents[doc.ApplicationID]
	for i, existing := range docs {
		if existing.Type == doc.Type {
			docs[i] = doc
			s.documents[doc.ApplicationID] = docs
			return nil
		}
	}
	s.documents[doc.ApplicationID] = append(docs, doc)
	return nil
}

// SetDocumentVerified flips the verification flag of a document.
func (s *MemoryStore) SetDocumentVerified(_ context.Context, applicationID, docType string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.documents[applicationID]
	for i, doc := range docs {
		if doc.Type == docType {
			docs[i].Verified = verified
			return nil
		}
	}
	return model.NewNotFoundError(
		fmt.Sprintf("document %q not found for application %q", docType, applicationID),
	)
}

// DocumentsFor returns the documents associated with an application.
func (s *MemoryStore) DocumentsFor(_ context.Context, applicationID string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.documents[applicationID]
	out := make([]model.Document, len(docs))
	copy(out, docs)
	return out, nil
}

// AuditEntries returns recorded audit entries, for tests.
func (s *MemoryStore) AuditEntries() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}
