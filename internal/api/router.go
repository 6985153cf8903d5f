package api

import (
	"net/http"

	"github.com/ashureev/studyrelay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the handlers and secrets mounted by NewRouter.
type RouterConfig struct {
	Handler    *Handler
	Webhook    *WebhookHandler
	AppSecret  string
	AdminToken string
	// Feed is mounted at /api/feed when AdminToken is set.
	Feed http.Handler
}

// NewRouter builds the HTTP routes of the relay.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", cfg.Handler.Root)
	r.Get("/health", cfg.Handler.Health)

	cfg.Webhook.RegisterRoutes(r, middleware.VerifySignature(cfg.AppSecret))

	if cfg.Feed != nil && cfg.AdminToken != "" {
		r.With(middleware.RequireAdminToken(cfg.AdminToken)).Get("/api/feed", cfg.Feed.ServeHTTP)
	}
	return r
}
