package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
	"github.com/openlegalaid/session-server-go/internal/store"
)

type SessionHandler struct {
	sessions store.Store
	blobs    store.BlobStore
	reporter *store.EncryptedStore
	maxBlob  int64
}

// NewSessionHandler wires the session surface. blobs and reporter are nil
// for backends without audio/privacy support.
func NewSessionHandler(sessions store.Store, encrypted *store.EncryptedStore, maxBlobBytes int64) *SessionHandler {
	h := &SessionHandler{
		sessions: sessions,
		maxBlob:  maxBlobBytes,
	}
	if encrypted != nil {
		h.blobs = encrypted
		h.reporter = encrypted
	}
	return h
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/{sessionID}", h.GetSession)
	r.Patch("/{sessionID}", h.UpdateSession)
	r.Delete("/{sessionID}", h.EndSession)

	r.Post("/{sessionID}/audio/{label}", h.StoreAudio)
	r.Get("/{sessionID}/audio/{label}", h.RetrieveAudio)
	r.Delete("/{sessionID}/audio/{label}", h.DeleteAudio)
	r.Get("/{sessionID}/privacy", h.PrivacyReport)

	return r
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		writeError(w, apperrors.MissingRequired("session id"))
		return
	}

	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// PATCH /v1/sessions/{sessionID}
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		writeError(w, apperrors.MissingRequired("session id"))
		return
	}

	var update model.SessionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := h.sessions.Update(r.Context(), id, update); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		writeError(w, apperrors.MissingRequired("session id"))
		return
	}

	if err := h.sessions.End(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/sessions/{sessionID}/audio/{label}
func (h *SessionHandler) StoreAudio(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, apperrors.Internal("audio storage is not enabled for this backend"))
		return
	}

	id := chi.URLParam(r, "sessionID")
	label := chi.URLParam(r, "label")

	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBlob+1))
	if err != nil {
		writeError(w, apperrors.InvalidInput("body", "could not read audio payload"))
		return
	}
	if int64(len(data)) > h.maxBlob {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "Audio payload too large",
		})
		return
	}

	handle, err := h.blobs.StoreAudio(r.Context(), id, data, label)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"handle": handle})
}

// GET /v1/sessions/{sessionID}/audio/{label}
func (h *SessionHandler) RetrieveAudio(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, apperrors.Internal("audio storage is not enabled for this backend"))
		return
	}

	id := chi.URLParam(r, "sessionID")
	label := chi.URLParam(r, "label")

	data, err := h.blobs.RetrieveAudio(r.Context(), id, label)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DELETE /v1/sessions/{sessionID}/audio/{label}
func (h *SessionHandler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, apperrors.Internal("audio storage is not enabled for this backend"))
		return
	}

	id := chi.URLParam(r, "sessionID")
	label := chi.URLParam(r, "label")

	deleted, err := h.blobs.DeleteAudio(r.Context(), id, label)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// GET /v1/sessions/{sessionID}/privacy
func (h *SessionHandler) PrivacyReport(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		writeError(w, apperrors.Internal("privacy reports are not enabled for this backend"))
		return
	}

	id := chi.URLParam(r, "sessionID")
	report, err := h.reporter.PrivacyReport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
