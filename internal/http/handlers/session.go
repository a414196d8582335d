package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/metering"
	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/repo"
)

// SessionHandler exposes the metering engine's status and paid-window
// controls over HTTP. The status endpoint doubles as the polling fallback
// for clients that miss websocket events.
type SessionHandler struct {
	engine *metering.Engine
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(engine *metering.Engine) *SessionHandler {
	return &SessionHandler{engine: engine}
}

// HandleStatus handles GET /api/session-status/{advisorID}
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	status, err := h.engine.SessionStatus(r.Context(), userID, advisorID, time.Now())
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("session status failed")
		respondWithError(w, http.StatusInternalServerError, "failed to fetch session status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// HandleStartPaid handles POST /api/start-paid-session/{advisorID}
func (h *SessionHandler) HandleStartPaid(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	status, err := h.engine.StartPaidSession(r.Context(), userID, advisorID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrInsufficientCredits):
			respondWithError(w, http.StatusPaymentRequired, metering.PaywallMessage)
		case errors.Is(err, metering.ErrPaidSessionActive):
			respondWithError(w, http.StatusConflict, "end your current paid session first")
		default:
			log.Error().Err(err).Stringer("user", userID).Msg("start paid session failed")
			respondWithError(w, http.StatusInternalServerError, "failed to start paid session")
		}
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// HandleStop handles POST /api/stop-session/{advisorID}
func (h *SessionHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	status, err := h.engine.StopSession(r.Context(), userID, advisorID, time.Now())
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("stop session failed")
		respondWithError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// sessionParams extracts the authenticated user and the advisor path param.
func sessionParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	advisorID, err := uuid.Parse(chi.URLParam(r, "advisorID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid advisor id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, advisorID, true
}
