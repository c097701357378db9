// internal/app/features/profile/routes.go
package profile

import (
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the /users subrouter. Every route requires a bearer token.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)
	r.Get("/me", h.ServeProfile)
	r.Delete("/me", h.HandleDelete)
	return r
}
