package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/astralink/server/internal/auth"
	"github.com/astralink/server/internal/http/handlers"
	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/repo"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Session  *handlers.SessionHandler
	Chat     *handlers.ChatHandler
	Wallet   *handlers.WalletHandler
	Advisor  *handlers.AdvisorHandler
	Feedback *handlers.FeedbackHandler
	WS       *handlers.WSHandler
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService, userRepo repo.UserRepo, frontendURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Post("/api/auth/login", h.Auth.HandleLogin)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))

		r.Get("/api/advisors", h.Advisor.HandleList)

		r.Get("/api/session-status/{advisorID}", h.Session.HandleStatus)
		r.Post("/api/start-paid-session/{advisorID}", h.Session.HandleStartPaid)
		r.Post("/api/stop-session/{advisorID}", h.Session.HandleStop)

		r.Post("/api/chat/{advisorID}", h.Chat.HandleSend)
		r.Get("/api/chat/{advisorID}", h.Chat.HandleHistory)

		r.Get("/api/wallet", h.Wallet.HandleGet)
		r.Post("/api/wallet/topup", h.Wallet.HandleTopup)

		r.Post("/api/feedback/{advisorID}", h.Feedback.HandleSubmit)
		r.Get("/api/feedback/advisor/{advisorID}", h.Feedback.HandleListByAdvisor)

		r.Get("/ws", h.WS.HandleConnect)
	})

	return r
}
