// internal/app/features/notifications/routes.go
package notifications

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the notification stream on r. Browsers cannot set
// headers on a websocket handshake, so the bearer token may arrive as the
// access_token query parameter.
func MountRoutes(r chi.Router, h *Handler) {
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSignedIn)
		g.Get("/notifications/ws", h.ServeSocket)
	})
}
