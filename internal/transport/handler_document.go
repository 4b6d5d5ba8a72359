package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/enrollflow/enrollflow/internal/engine"
	"github.com/enrollflow/enrollflow/model"
)

// handleDocumentUpload registers an uploaded document with the application.
// The document arrives unverified; re-uploading a type resets verification.
func handleDocumentUpload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Type == "" {
			WriteValidationError(w, []model.FieldError{{Field: "type", Message: "type is required"}})
			return
		}

		doc := model.Document{
			ApplicationID: chi.URLParam(r, "applicationId"),
			Type:          body.Type,
			UploadedAt:    time.Now().UTC(),
		}
		if err := eng.RegisterDocument(r.Context(), doc); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, doc)
	}
}

// handleDocumentVerify flips a document's verification flag and triggers
// automatic transition reevaluation. An empty body means verified.
func handleDocumentVerify(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Verified bool `json:"verified"`
		}{Verified: true}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				WriteError(w, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}

		applicationID := chi.URLParam(r, "applicationId")
		docType := chi.URLParam(r, "documentType")
		if err := eng.VerifyDocument(r.Context(), applicationID, docType, body.Verified); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"application_id": applicationID,
			"type":           docType,
			"verified":       body.Verified,
		})
	}
}
