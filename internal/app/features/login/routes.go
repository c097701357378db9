// internal/app/features/login/routes.go
package login

import "github.com/go-chi/chi/v5"

// Routes returns the /auth subrouter.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.HandleRegister)
	r.Get("/confirm-email", h.HandleConfirmEmail)
	r.Post("/resend-confirmation", h.HandleResendConfirmation)
	r.Post("/login", h.HandleLogin)
	r.Post("/confirm-login", h.HandleConfirmLogin)
	r.Post("/resend-code", h.HandleResendCode)
	return r
}
