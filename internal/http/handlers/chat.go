package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/chat"
	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/repo"
)

// ChatHandler handles gated chat sends and transcript reads.
type ChatHandler struct {
	service     *chat.Service
	sendLimiter *middleware.RateLimiter
}

// NewChatHandler creates a new chat handler. Sends are rate limited per
// user: 30 per minute.
func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{
		service:     service,
		sendLimiter: middleware.NewRateLimiter(time.Minute, 30),
	}
}

// sendRequest is the request body for POST /api/chat/{advisorID}
type sendRequest struct {
	Message string `json:"message"`
}

// HandleSend handles POST /api/chat/{advisorID}
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if !h.sendLimiter.Allow(middleware.GetUserKey(userID)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.service.Send(r.Context(), *user, advisorID, req.Message, time.Now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "advisor not found")
			return
		}
		log.Error().Err(err).Stringer("user", userID).Msg("chat send failed")
		respondWithError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if result.CreditRequired {
		respondJSON(w, http.StatusPaymentRequired, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleHistory handles GET /api/chat/{advisorID}
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	msgs, err := h.service.History(r.Context(), userID, advisorID)
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("chat history failed")
		respondWithError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": msgs,
	})
}
