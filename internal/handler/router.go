package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	chathandler "github.com/docport/chat-relay/internal/handler/chat"
	wshandler "github.com/docport/chat-relay/internal/handler/ws"
	"github.com/docport/chat-relay/internal/middleware"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
)

// RouterConfig carries the request-pipeline settings the router needs.
type RouterConfig struct {
	JWTSecret  string
	CORSOrigin string
	Relay      relay.Options
}

// NewRouter wires HTTP routes to the chat service and relay hub.
func NewRouter(chatSvc *chatservice.Service, hub *relay.Hub, cfg RouterConfig, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.Auth(cfg.JWTSecret))

	chatHandler := chathandler.New(chatSvc, hub, log)
	wsHandler := wshandler.New(chatSvc, hub, cfg.JWTSecret, cfg.Relay, log)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("server is running"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Route("/chat", chatHandler.RegisterRoutes)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
