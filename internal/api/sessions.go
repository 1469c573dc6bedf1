package api

import (
	"context"
	"net/http"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionReader exposes snapshots of live and recently finished sessions
type SessionReader interface {
	Sessions() []types.SessionSnapshot
	Session(id string) (types.SessionSnapshot, bool)
}

// IntentCounter counts pending transfer intents
type IntentCounter interface {
	Count(ctx context.Context) (int, error)
}

// SessionsHandler provides REST endpoints for transfer sessions
type SessionsHandler struct {
	sessions SessionReader
	intents  IntentCounter
	logger   zerolog.Logger
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(sessions SessionReader, intents IntentCounter, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		intents:  intents,
		logger:   logger.With().Str("component", "sessions_handler").Logger(),
	}
}

// List returns the sessions the caller may see, newest first
// GET /api/sessions
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.sessions.Sessions()
	out := make([]types.SessionSnapshot, 0, len(all))
	for _, s := range all {
		if visible(r, s.DepartmentName) {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one session
// GET /api/sessions/{sessionId}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	snap, ok := h.sessions.Session(id)
	if !ok || !visible(r, snap.DepartmentName) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Pending returns the number of transfer intents awaiting their caller
// GET /api/transfers/pending
func (h *SessionsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	count, err := h.intents.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count pending intents")
		writeError(w, http.StatusInternalServerError, "failed to count pending transfers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": count})
}
