package handlers

import (
	"net/http"

	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/ws"
)

// WSHandler upgrades authenticated requests into hub connections. The room
// is derived from the verified token, so a client can never join another
// user's channel.
type WSHandler struct {
	hub *ws.Hub
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(hub *ws.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleConnect handles GET /ws
func (h *WSHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	h.hub.ServeUser(w, r, userID)
}
