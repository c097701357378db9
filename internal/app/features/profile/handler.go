// internal/app/features/profile/handler.go
package profile

import (
	"context"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/services/accounts"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.uber.org/zap"
)

// Handler serves the caller's own account.
type Handler struct {
	Accounts *accounts.Service
	ErrLog   *uierrors.ErrorLogger
	Log      *zap.Logger
}

// NewHandler constructs a profile Handler.
func NewHandler(acc *accounts.Service, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Accounts: acc, ErrLog: errLog, Log: logger}
}

type profileResponse struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Name                   string    `json:"name"`
	Surname                string    `json:"surname"`
	EmailConfirmed         bool      `json:"email_confirmed"`
	TelegramLinked         bool      `json:"telegram_linked"`
	UsedSecondFactorBefore bool      `json:"used_second_factor_before"`
	CreatedAt              time.Time `json:"created_at"`
}

func toResponse(u models.User) profileResponse {
	return profileResponse{
		ID:                     u.ID.Hex(),
		Email:                  u.Email,
		Name:                   u.Name,
		Surname:                u.Surname,
		EmailConfirmed:         u.EmailConfirmed,
		TelegramLinked:         u.ChannelLinked(),
		UsedSecondFactorBefore: u.UsedSecondFactorBefore,
		CreatedAt:              u.CreatedAt,
	}
}

// ServeProfile handles GET /users/me.
func (h *Handler) ServeProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Accounts.Profile(ctx, p)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, toResponse(u))
}

// HandleDelete handles DELETE /users/me. Owners of companies are refused.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Accounts.DeleteAccount(ctx, p); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	h.Log.Info("account deleted", zap.String("user_id", p.ID.Hex()))
	w.WriteHeader(http.StatusNoContent)
}
