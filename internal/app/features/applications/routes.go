// internal/app/features/applications/routes.go
package applications

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the application endpoints on r.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Get("/companies/{id}/applications", h.ServeList)
		g.Post("/companies/{id}/applications", h.HandleCreate)
		g.Post("/companies/{id}/applications/{appId}/assistant-review", h.HandleAssistantReview)
		g.Post("/companies/{id}/applications/{appId}/director-review", h.HandleDirectorReview)
		g.Get("/applications/stats", h.ServeStats)
	})
}
