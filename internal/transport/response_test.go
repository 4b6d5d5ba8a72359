package transport

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/enrollflow/enrollflow/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, 201, map[string]string{"id": "wf-1"})

	if w.Code != 201 {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["id"] != "wf-1" {
		t.Errorf("body id = %q, want wf-1", body["id"])
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", model.NewNotFoundError("missing"), 404},
		{"conflict", model.NewConflictError("taken"), 409},
		{"no active workflow", model.NewNoActiveWorkflowError("undergraduate"), 409},
		{"not available", model.NewTransitionNotAvailableError("Decide", []string{"missing transcript"}), 422},
		{"not authorized", model.NewTransitionNotAuthorizedError("Decide"), 403},
		{"invalid graph", model.NewInvalidWorkflowGraphError([]string{"no terminal stage"}), 422},
		{"workflow active", model.NewWorkflowActiveError("Undergraduate 2027"), 409},
		{"plain error", errors.New("boom"), 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}

			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code == "" {
				t.Error("error code should be present")
			}
		})
	}
}

func TestWriteError_preservesIssues(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewTransitionNotAvailableError("Decide", []string{"document transcript is not verified"}))

	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Error.Issues) != 1 {
		t.Fatalf("issues = %v, want one entry", body.Error.Issues)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), model.NewForbiddenError("nope"))
	w := httptest.NewRecorder()
	WriteError(w, wrapped)

	if w.Code != 403 {
		t.Errorf("status = %d, want 403 (envelope found via errors.As)", w.Code)
	}
}
