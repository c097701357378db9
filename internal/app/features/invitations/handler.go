// internal/app/features/invitations/handler.go
package invitations

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	invitationsvc "github.com/dalemusser/unchainme/internal/app/services/invitations"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Handler serves company invitations.
type Handler struct {
	Ledger *invitationsvc.Ledger
	ErrLog *uierrors.ErrorLogger
	Log    *zap.Logger
}

// NewHandler constructs an invitations Handler.
func NewHandler(ledger *invitationsvc.Ledger, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Ledger: ledger, ErrLog: errLog, Log: logger}
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// HandleInvite handles POST /companies/{id}/invite.
func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	var req inviteRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode invite", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	inv, err := h.Ledger.Invite(ctx, p, companyID, req.Email, req.Role)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusCreated, inv)
}

// ServeMine handles GET /companies/invitations: pending invitations
// addressed to the caller.
func (h *Handler) ServeMine(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	views, err := h.Ledger.ListForUser(ctx, p)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, views)
}

// ServeCompany handles GET /companies/{id}/invitations.
func (h *Handler) ServeCompany(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	invs, err := h.Ledger.ListForCompany(ctx, p, companyID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, invs)
}

// HandleAccept handles POST /companies/invitations/{id}/accept.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	invitationID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	m, err := h.Ledger.Accept(ctx, p, invitationID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, m)
}

// HandleCancel handles DELETE /companies/{id}/invitations/{invitationId}.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	invitationID, err := formutil.PathID(r, "invitationId")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Ledger.Cancel(ctx, p, companyID, invitationID); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
