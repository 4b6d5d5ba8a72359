package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enrollflow/enrollflow/internal/registry"
	"github.com/enrollflow/enrollflow/model"
)

func handleWorkflowCreate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Name            string `json:"name"`
			Description     string `json:"description"`
			ApplicationType string `json:"application_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		wf, err := reg.CreateWorkflow(r.Context(), body.Name, body.Description, body.ApplicationType, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, wf)
	}
}

func handleWorkflowList(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wfs, err := reg.ListWorkflows(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
	}
}

func handleWorkflowGet(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := reg.GetWorkflow(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowUpdate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		wf, err := reg.UpdateWorkflow(r.Context(), chi.URLParam(r, "workflowId"), body.Name, body.Description)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowDelete(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.DeleteWorkflow(r.Context(), chi.URLParam(r, "workflowId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleWorkflowActivate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		id := chi.URLParam(r, "workflowId")

		if err := reg.Activate(r.Context(), id, rctx.Actor()); err != nil {
			WriteError(w, err)
			return
		}
		wf, err := reg.GetWorkflow(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowDeactivate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		id := chi.URLParam(r, "workflowId")

		if err := reg.Deactivate(r.Context(), id, rctx.Actor()); err != nil {
			WriteError(w, err)
			return
		}
		wf, err := reg.GetWorkflow(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

// handleWorkflowValidate runs the graph validator without activating,
// so authors can check a draft workflow before flipping it live.
func handleWorkflowValidate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := reg.Validate(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleWorkflowDuplicate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		dup, err := reg.Duplicate(r.Context(), chi.URLParam(r, "workflowId"), body.Name, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, dup)
	}
}
