// internal/app/features/companies/routes.go
package companies

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the company and member endpoints on r. All of them
// require a bearer token.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Post("/companies", h.HandleCreate)
		g.Get("/companies", h.ServeList)
		g.Delete("/companies/{id}", h.HandleDelete)
		g.Get("/companies/{id}/users", h.ServeMembers)
		g.Delete("/companies/{id}/users/{userId}", h.HandleRemoveMember)
	})
}
