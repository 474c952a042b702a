package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dreamhome-assistant/internal/engine"
	"dreamhome-assistant/internal/middleware"
	"dreamhome-assistant/internal/session"
)

type SessionHandler struct {
	engine *engine.Engine
}

func NewSessionHandler(eng *engine.Engine) *SessionHandler {
	return &SessionHandler{engine: eng}
}

// List returns every stored session for the conversation, creation order
// preserved.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.Sessions(r.Context(), middleware.GetConversationID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to load sessions", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// StartNew archives the active chat log and activates a fresh session.
func (h *SessionHandler) StartNew(w http.ResponseWriter, r *http.Request) {
	fresh, err := h.engine.StartNewSession(r.Context(), middleware.GetConversationID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to start session", r))
		return
	}
	writeJSON(w, http.StatusCreated, fresh)
}

// Switch makes a stored session active and returns its messages.
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	target, err := h.engine.SwitchSession(r.Context(), middleware.GetConversationID(r.Context()), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to switch session", r))
		return
	}
	writeJSON(w, http.StatusOK, target)
}
