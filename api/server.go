/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/coaches/{coachID}/members/*  Member and package management
  /api/coaches/{coachID}/events/*   Event booking
  /api/coaches/{coachID}/aggregate  Coach running totals
  /api/scenarios/*                  Demo scenarios (dev only)

SECURITY NOTE:
  No authentication middleware currently. The X-Actor-Role header is
  trusted as-is; a production deployment derives the role from a session.

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/coaches/{coachID}", func(r chi.Router) {
			// Member and package routes
			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.ListMembers)
				r.Post("/", h.RegisterMember)
				r.Route("/{memberID}", func(r chi.Router) {
					r.Get("/", h.GetMember)
					r.Route("/packages", func(r chi.Router) {
						r.Get("/", h.ListPackages)
						r.Post("/", h.CreatePackage)
						r.Post("/{packageID}/approve", h.ApprovePackage)
						r.Put("/{packageID}", h.EditPackage)
						r.Delete("/{packageID}", h.DeletePackage)
					})
				})
			})

			// Aggregate route
			r.Get("/aggregate", h.GetAggregate)

			// Event routes
			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.Post("/", h.CreateEvent)
				r.Route("/{eventID}", func(r chi.Router) {
					r.Get("/", h.GetEvent)
					r.Delete("/", h.CancelEvent)
					r.Post("/participants", h.AddParticipant)
					r.Delete("/participants/{participantID}", h.RemoveParticipant)
				})
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
