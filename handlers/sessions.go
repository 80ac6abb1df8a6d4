package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carbonlake/aquiferai/pkg/session"
)

// SessionListResponse is the response for listing sessions.
type SessionListResponse struct {
	Sessions []session.Session `json:"sessions"`
	Total    int               `json:"total"`
	HasMore  bool              `json:"has_more"`
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	ID   uuid.UUID `json:"id"`
	Name *string   `json:"name"`
}

// ListSessions returns a paginated list of sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, total, err := h.Sessions.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, internalError("Failed to list sessions", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Total:    total,
		HasMore:  offset+len(sessions) < total,
	})
}

// GetSession returns a single session by ID.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sess, err := h.Sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, internalError("Failed to get session", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// CreateSession creates a new empty session.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	sess, err := h.Sessions.Create(r.Context(), req.ID, req.Name)
	if err != nil {
		http.Error(w, internalError("Failed to create session", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// DeleteSession deletes a session by ID.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if err := h.Sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, internalError("Failed to delete session", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
