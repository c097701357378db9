// internal/app/features/auditlog/routes.go
package auditlog

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes attaches the audit trail to r. Only company admins may
// read it; the role check happens per request against the path company.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Get("/companies/{id}/audit", h.ServeList)
	})
}
