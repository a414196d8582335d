package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

// FeedbackNotifier pushes feedback events to the submitting user's clients.
type FeedbackNotifier interface {
	FeedbackSubmitted(userID uuid.UUID, ev model.FeedbackEvent)
}

// FeedbackHandler records post-session advisor ratings. The feedback modal
// prompt arrives over the session event stream; this is where its answer
// lands.
type FeedbackHandler struct {
	feedback repo.FeedbackRepo
	notifier FeedbackNotifier
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(feedback repo.FeedbackRepo, notifier FeedbackNotifier) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback, notifier: notifier}
}

// submitFeedbackRequest is the request body for POST /api/feedback/{advisorID}
type submitFeedbackRequest struct {
	Rating  int    `json:"rating"`
	Message string `json:"message"`
}

// feedbackResponse is the feedback object in API responses
type feedbackResponse struct {
	ID        string `json:"id"`
	Rating    int    `json:"rating"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// HandleSubmit handles POST /api/feedback/{advisorID}
func (h *FeedbackHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	var req submitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		respondWithError(w, http.StatusBadRequest, "rating must be an integer between 1 and 5")
		return
	}
	req.Message = strings.TrimSpace(req.Message)

	fb, err := h.feedback.Create(r.Context(), userID, advisorID, req.Rating, req.Message)
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("feedback submission failed")
		respondWithError(w, http.StatusInternalServerError, "failed to submit feedback")
		return
	}

	h.notifier.FeedbackSubmitted(userID, model.FeedbackEvent{
		UserID:    fb.UserID,
		PsychicID: fb.AdvisorID,
		Rating:    fb.Rating,
		CreatedAt: fb.CreatedAt,
	})

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"feedback": feedbackResponse{
			ID:        fb.ID.String(),
			Rating:    fb.Rating,
			Message:   fb.Message,
			CreatedAt: fb.CreatedAt.Format(time.RFC3339),
		},
	})
}

// advisorFeedbackResponse is the aggregate body for the listing endpoint.
type advisorFeedbackResponse struct {
	Feedback      []advisorFeedbackEntry `json:"feedback"`
	AverageRating string                 `json:"averageRating"`
	FeedbackCount int                    `json:"feedbackCount"`
}

type advisorFeedbackEntry struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	Rating    int    `json:"rating"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// HandleListByAdvisor handles GET /api/feedback/advisor/{advisorID}
func (h *FeedbackHandler) HandleListByAdvisor(w http.ResponseWriter, r *http.Request) {
	_, advisorID, ok := sessionParams(w, r)
	if !ok {
		return
	}

	entries, err := h.feedback.ListByAdvisor(r.Context(), advisorID)
	if err != nil {
		log.Error().Err(err).Stringer("advisor", advisorID).Msg("feedback listing failed")
		respondWithError(w, http.StatusInternalServerError, "failed to fetch feedback")
		return
	}
	if len(entries) == 0 {
		respondWithError(w, http.StatusNotFound, "no feedback found for this advisor")
		return
	}

	total := 0
	out := make([]advisorFeedbackEntry, 0, len(entries))
	for _, e := range entries {
		total += e.Rating
		out = append(out, advisorFeedbackEntry{
			ID:        e.ID.String(),
			UserName:  e.Username,
			Rating:    e.Rating,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"overall": advisorFeedbackResponse{
			Feedback:      out,
			AverageRating: fmt.Sprintf("%.2f", float64(total)/float64(len(entries))),
			FeedbackCount: len(entries),
		},
	})
}
