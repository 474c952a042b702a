package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"dreamhome-assistant/internal/handlers"
	"dreamhome-assistant/internal/middleware"
	"dreamhome-assistant/internal/websocket"
)

func New(
	widgetAuth *middleware.WidgetAuth,
	assistantHandler *handlers.AssistantHandler,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Bootstrap rate limiter (20 req/min per IP); the endpoint is public
	// and mints tokens.
	bootstrapLimiter := middleware.NewRateLimiter(20, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Widget bootstrap (public) ────
		r.Group(func(r chi.Router) {
			r.Use(bootstrapLimiter.Middleware)
			r.Post("/widget/session", assistantHandler.Bootstrap)
		})

		// ──── Assistant Routes ────
		r.Route("/assistant", func(r chi.Router) {
			r.Use(widgetAuth.Middleware)
			r.Post("/lead", assistantHandler.SubmitLead)
			r.Post("/message", assistantHandler.Message)
			r.Post("/quick-action", assistantHandler.QuickAction)
			r.Post("/property-form", assistantHandler.PropertyForm)
			r.Get("/transcript", assistantHandler.Transcript)
			r.Get("/meta", assistantHandler.Meta)
			r.Post("/uploads", assistantHandler.Upload)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(widgetAuth.Middleware)
			r.Get("/", sessionHandler.List)
			r.Post("/new", sessionHandler.StartNew)
			r.Post("/{id}/switch", sessionHandler.Switch)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
