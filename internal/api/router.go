/**
 * @description
 * HTTP router setup for the settlement-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the values the router needs from configuration.
type RouterConfig struct {
	InternalAPIKey string
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter creates a new Chi router and registers the settlement routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	// The funds-transfer round-trip alone may take 60s.
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Settlement-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Settlement service is healthy"))
	}
	r.Get("/health", health)

	r.Route("/settlements", func(r chi.Router) {
		r.Get("/health", health)

		r.Group(func(r chi.Router) {
			r.Use(CallerAuthMiddleware(cfg.InternalAPIKey, cfg.JWTSecret))
			r.Post("/pin/validate", h.handleValidatePin)
			r.Post("/2fa/validate", h.handleValidateSecondFactor)
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/", h.handleSettle)
		})
	})

	return r
}
