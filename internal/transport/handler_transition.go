package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/enrollflow/enrollflow/internal/registry"
	"github.com/enrollflow/enrollflow/model"
)

func handleTransitionList(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trs, err := reg.Store().TransitionsFor(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"transitions": trs})
	}
}

func handleTransitionCreate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tr model.Transition
		if err := json.NewDecoder(r.Body).Decode(&tr); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		created, err := reg.AddTransition(r.Context(), chi.URLParam(r, "workflowId"), tr)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleTransitionUpdate(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tr model.Transition
		if err := json.NewDecoder(r.Body).Decode(&tr); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		updated, err := reg.UpdateTransition(r.Context(), chi.URLParam(r, "transitionId"), tr)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleTransitionDelete(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.DeleteTransition(r.Context(), chi.URLParam(r, "transitionId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
