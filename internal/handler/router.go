package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/gita-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/gita-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/gita-chat/backend/internal/middleware"
	"github.com/zhouzirui/gita-chat/backend/internal/service/relay"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(rel *relay.Relay, sessions chat.SessionStore, errorMessage string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	streamHandler := stream.New(rel, errorMessage)
	chatHandler := chat.New(sessions)

	r.Route("/api", func(api chi.Router) {
		// POST /api/chat, GET /api/chat/ws
		streamHandler.RegisterRoutes(api)

		// DELETE /api/chat
		chatHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
