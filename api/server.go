/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer connecting URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for reporting frontends

ROUTE GROUPS:
  /api/charges/*   Charge calculation and bulk recalculation
  /api/rates/*     Persisted rate table lookup

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/charges", func(r chi.Router) {
			r.Get("/loans/{id}", h.GetLoanCharge)
			r.Post("/loans/{id}/installments", h.RedistributeInstallments)
			r.Post("/estimate", h.Estimate)
			r.Post("/recalculate", h.Recalculate)
			r.Get("/sheet", h.GetSheet)
		})

		r.Route("/rates", func(r chi.Router) {
			r.Get("/{kind}/{year}", h.GetRates)
		})
	})

	return r
}
