package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/repo"
)

// AdvisorHandler lists the available AI personas.
type AdvisorHandler struct {
	advisors repo.AdvisorRepo
}

// NewAdvisorHandler creates a new advisor handler
func NewAdvisorHandler(advisors repo.AdvisorRepo) *AdvisorHandler {
	return &AdvisorHandler{advisors: advisors}
}

// advisorResponse is the advisor object in API responses
type advisorResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Bio       string `json:"bio"`
}

// HandleList handles GET /api/advisors
func (h *AdvisorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	advisors, err := h.advisors.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("advisor list failed")
		respondWithError(w, http.StatusInternalServerError, "failed to list advisors")
		return
	}

	out := make([]advisorResponse, 0, len(advisors))
	for _, a := range advisors {
		out = append(out, advisorResponse{
			ID:        a.ID.String(),
			Name:      a.Name,
			Specialty: a.Specialty,
			Bio:       a.Bio,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
