// internal/app/features/companies/handler.go
package companies

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	companysvc "github.com/dalemusser/unchainme/internal/app/services/companies"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Handler serves companies and their member lists.
type Handler struct {
	Companies *companysvc.Service
	ErrLog    *uierrors.ErrorLogger
	Log       *zap.Logger
}

// NewHandler constructs a companies Handler.
func NewHandler(svc *companysvc.Service, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Companies: svc, ErrLog: errLog, Log: logger}
}

type createRequest struct {
	Name string `json:"name"`
}

// HandleCreate handles POST /companies. The caller becomes owner and Admin.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	var req createRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode create company", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	c, err := h.Companies.Create(ctx, p, req.Name)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusCreated, c)
}

// ServeList handles GET /companies: every company the caller has joined,
// with their role in it.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	views, err := h.Companies.List(ctx, p)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, views)
}

// HandleDelete handles DELETE /companies/{id}. Only the owner may delete.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	if err := h.Companies.Delete(ctx, p, companyID); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	h.Log.Info("company deleted",
		zap.String("company_id", companyID.Hex()),
		zap.String("user_id", p.ID.Hex()))
	w.WriteHeader(http.StatusNoContent)
}

// ServeMembers handles GET /companies/{id}/users.
func (h *Handler) ServeMembers(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	members, err := h.Companies.Members(ctx, p, companyID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, members)
}

// HandleRemoveMember handles DELETE /companies/{id}/users/{userId}.
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	userID, err := formutil.PathID(r, "userId")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Companies.RemoveUser(ctx, p, companyID, userID); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
