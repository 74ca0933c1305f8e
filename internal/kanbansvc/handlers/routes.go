package handlers

import (
	"time"

	config "github.com/avvvet/kanban-services/configs"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

// NewRouter builds the service router with its middleware stack.
// rateLimit is requests per minute per client IP; 0 disables limiting.
func NewRouter(h *Handler, rateLimit int) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)

	// to protect the service api from any over requests
	if rateLimit > 0 {
		r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))
	}

	h.SetRoutes(r)
	return r
}

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.NotFound(h.NotFoundHandler)
	r.MethodNotAllowed(h.NotFoundHandler)

	r.Route("/api", func(r chi.Router) {
		// preflights outside /api fall through to not found
		r.Use(config.CORS().Handler)

		r.Options("/*", h.OptionsHandler)

		// public routes here
		r.Get("/health", h.HealthHandler)
		r.Get("/cards", h.ListCards)
		r.Get("/ws", h.HandleWebSocket)

		// writes, token protected when auth is enabled
		r.Group(func(r chi.Router) {
			if h.tokenAuth != nil {
				r.Use(jwtauth.Verifier(h.tokenAuth))
				r.Use(jwtauth.Authenticator)
			}

			r.Post("/cards", h.CreateCard)
			r.Put("/cards", h.ReplaceCards)
			r.Put("/cards/{id}", h.UpdateCard)
			r.Delete("/cards/{id}", h.DeleteCard)
		})
	})
}

// InitAuth turns on HS256 bearer auth for mutating routes. It must run
// before SetRoutes; an empty key leaves the API open.
func (h *Handler) InitAuth(jwtKey string) {
	if jwtKey == "" {
		log.Info("JWT_SECRET_KEY not set, card writes are unauthenticated")
		return
	}
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)
	log.Info("bearer token auth enabled for card writes")
}

func (h *Handler) TokenAuth() *jwtauth.JWTAuth {
	return h.tokenAuth
}
