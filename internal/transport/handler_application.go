package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/engine"
	"github.com/enrollflow/enrollflow/internal/ledger"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/model"
)

func handleApplicationCreate(led ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type        string `json:"type"`
			ApplicantID string `json:"applicant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Type == "" {
			WriteValidationError(w, []model.FieldError{{Field: "type", Message: "type is required"}})
			return
		}

		now := time.Now().UTC()
		app := model.Application{
			ID:          uuid.NewString(),
			Type:        body.Type,
			ApplicantID: body.ApplicantID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := led.CreateApplication(r.Context(), app); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, app)
	}
}

func handleApplicationList(led ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := led.ListApplications(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
	}
}

func handleApplicationGet(led ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := led.GetApplication(r.Context(), chi.URLParam(r, "applicationId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, app)
	}
}

func handleApplicationDelete(led ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := led.DeleteApplication(r.Context(), chi.URLParam(r, "applicationId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleApplicationInitialize places the application on the initial stage
// of the active workflow for its type.
func handleApplicationInitialize(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		status, err := eng.InitializeWorkflow(r.Context(), chi.URLParam(r, "applicationId"), rctx.Actor())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, status)
	}
}

// handleTransitionExecute executes a manual transition. An Idempotency-Key
// header makes retried requests return the originally appended status
// instead of failing the compare-and-swap.
func handleTransitionExecute(eng *engine.Engine, idem IdempotencyStore, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		applicationID := chi.URLParam(r, "applicationId")
		transitionID := chi.URLParam(r, "transitionId")

		var body struct {
			Notes string `json:"notes"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				WriteError(w, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}

		idemKey := r.Header.Get("Idempotency-Key")
		var storeKey, inputHash string
		if idem != nil && idemKey != "" {
			storeKey = FormatIdempotencyKey(applicationID, idemKey)
			inputHash = HashInput(transitionID, body.Notes, rctx.SubjectID)

			cached, found, err := idem.Check(r.Context(), storeKey, inputHash)
			if err != nil {
				WriteError(w, err)
				return
			}
			if found {
				w.Header().Set("X-Idempotent-Replay", "true")
				WriteJSON(w, http.StatusOK, cached)
				return
			}
		}

		status, err := eng.ExecuteTransition(r.Context(), applicationID, transitionID, rctx.Actor(), body.Notes)
		if err != nil {
			WriteError(w, err)
			return
		}

		if storeKey != "" {
			// The transition already committed; a failed cache write only
			// weakens replay protection.
			if err := idem.Store(r.Context(), storeKey, inputHash, status, ttl); err != nil {
				observability.RequestLogger(r.Context(), zap.NewNop()).Warn(
					"idempotency store write failed", zap.Error(err))
			}
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

func handleAvailableTransitions(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		views, err := eng.AvailableTransitions(r.Context(), chi.URLParam(r, "applicationId"), rctx.Actor())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"transitions": views})
	}
}

func handleNextStages(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stages, err := eng.NextStages(r.Context(), chi.URLParam(r, "applicationId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stages": stages})
	}
}

func handleCurrentStage(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage, status, err := eng.CurrentStage(r.Context(), chi.URLParam(r, "applicationId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stage": stage, "status": status})
	}
}

func handleStatusHistory(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descending := r.URL.Query().Get("order") == "desc"
		history, err := eng.StatusHistory(r.Context(), chi.URLParam(r, "applicationId"), descending)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"history": history})
	}
}
