package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Submission pipeline
		r.Post("/process", h.ProcessSubmission)
		r.Post("/validate", h.ValidateSubmission)
		r.Post("/verify", h.VerifySubmission)
		r.Post("/compare", h.CompareSubmission)

		// File status and change history
		r.Get("/files/{fileID}/status", h.GetFileStatus)
		r.Get("/files/{fileID}/history", h.GetFileHistory)
		r.Get("/validations/{validationID}", h.GetValidation)

		// Rule tooling
		r.Post("/rules", h.CheckRule)
		r.Get("/rules/templates", h.GetRuleTemplates)

		// Notifications
		r.Post("/notify", h.SendNotification)
		r.Post("/notify/sweep", h.RunReminderSweep)
		r.Get("/notifications/{notificationID}", h.GetNotification)
	})

	return r
}
