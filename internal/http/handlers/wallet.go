package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/repo"
)

// WalletHandler exposes the wallet balance and the external top-up
// boundary. Top-up is the sole path that increases a balance; the metering
// engine only ever decrements.
type WalletHandler struct {
	wallets repo.WalletRepo
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(wallets repo.WalletRepo) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// HandleGet handles GET /api/wallet
func (h *WalletHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	wallet, err := h.wallets.GetOrCreate(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("wallet fetch failed")
		respondWithError(w, http.StatusInternalServerError, "failed to fetch wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"credits": wallet.Credits})
}

// topupRequest is the request body for POST /api/wallet/topup. In
// production the payment provider's webhook hits this boundary once a
// checkout is confirmed.
type topupRequest struct {
	Credits int `json:"credits"`
}

// HandleTopup handles POST /api/wallet/topup
func (h *WalletHandler) HandleTopup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Credits <= 0 {
		respondWithError(w, http.StatusBadRequest, "credits must be positive")
		return
	}

	wallet, err := h.wallets.Credit(r.Context(), userID, req.Credits)
	if err != nil {
		log.Error().Err(err).Stringer("user", userID).Msg("wallet top-up failed")
		respondWithError(w, http.StatusInternalServerError, "failed to credit wallet")
		return
	}

	log.Info().Stringer("user", userID).Int("credits", wallet.Credits).Msg("wallet credited")
	respondJSON(w, http.StatusOK, map[string]interface{}{"credits": wallet.Credits})
}
