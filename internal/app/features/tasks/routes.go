// internal/app/features/tasks/routes.go
package tasks

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the task endpoints on r.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Get("/companies/{id}/tasks", h.ServeList)
		g.Post("/companies/{id}/tasks", h.HandleCreate)
		g.Post("/companies/{id}/tasks/{taskId}/claim", h.HandleClaim)
		g.Patch("/companies/{id}/tasks/{taskId}/status", h.HandleStatus)
		g.Patch("/companies/{id}/tasks/{taskId}/unassign", h.HandleUnassign)
		g.Delete("/companies/{id}/tasks/{taskId}", h.HandleDelete)
	})
}
