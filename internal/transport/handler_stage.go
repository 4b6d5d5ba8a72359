package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enrollflow/enrollflow/internal/registry"
	"github.com/enrollflow/enrollflow/model"
)

func handleStageList(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stages, err := reg.Store().StagesFor(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stages": stages})
	}
}

func handleStageCreate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var st model.Stage
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		created, err := reg.AddStage(r.Context(), chi.URLParam(r, "workflowId"), st)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleStageUpdate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var st model.Stage
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		updated, err := reg.UpdateStage(r.Context(), chi.URLParam(r, "stageId"), st)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleStageDelete(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.DeleteStage(r.Context(), chi.URLParam(r, "stageId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStageReorder(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StageIDs []string `json:"stage_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		workflowID := chi.URLParam(r, "workflowId")
		if err := reg.ReorderStages(r.Context(), workflowID, body.StageIDs); err != nil {
			WriteError(w, err)
			return
		}

		stages, err := reg.Store().StagesFor(r.Context(), workflowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stages": stages})
	}
}
