// internal/app/features/invitations/routes.go
package invitations

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the invitation endpoints on r. The static
// /companies/invitations paths take precedence over /companies/{id}.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Get("/companies/invitations", h.ServeMine)
		g.Post("/companies/invitations/{id}/accept", h.HandleAccept)
		g.Post("/companies/{id}/invite", h.HandleInvite)
		g.Get("/companies/{id}/invitations", h.ServeCompany)
		g.Delete("/companies/{id}/invitations/{invitationId}", h.HandleCancel)
	})
}
