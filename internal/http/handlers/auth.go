package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/auth"
	"github.com/astralink/server/internal/repo"
)

// AuthHandler is the identity boundary adapter: it turns an email into a
// user id and an access token. Everything beyond that (passwords, OTP,
// federation) lives outside this service.
type AuthHandler struct {
	jwtService *auth.JWTService
	userRepo   repo.UserRepo
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtService *auth.JWTService, userRepo repo.UserRepo) *AuthHandler {
	return &AuthHandler{
		jwtService: jwtService,
		userRepo:   userRepo,
	}
}

// loginRequest is the request body for POST /api/auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// loginResponse is the JSON response for login
type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	FreeSessionUsed bool   `json:"freeSessionUsed"`
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}

	user, err := h.userRepo.GetOrCreateByEmail(r.Context(), req.Email, req.Username)
	if err != nil {
		log.Error().Err(err).Msg("login: failed to get or create user")
		respondWithError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	token, err := h.jwtService.SignAccessToken(user.ID, user.Email)
	if err != nil {
		log.Error().Err(err).Msg("login: failed to sign token")
		respondWithError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		User: userResponse{
			ID:              user.ID.String(),
			Email:           user.Email,
			Username:        user.Username,
			FreeSessionUsed: user.FreeTrialUsed,
		},
	})
}
