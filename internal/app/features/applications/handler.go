// internal/app/features/applications/handler.go
package applications

import (
	"context"
	"net/http"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	applicationsvc "github.com/dalemusser/unchainme/internal/app/services/applications"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves employee applications and their review.
type Handler struct {
	Applications *applicationsvc.Service
	ErrLog       *uierrors.ErrorLogger
	Log          *zap.Logger
}

// NewHandler constructs an applications Handler.
func NewHandler(svc *applicationsvc.Service, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Applications: svc, ErrLog: errLog, Log: logger}
}

type createRequest struct {
	Type       models.ApplicationType `json:"type"`
	CustomType string                 `json:"customType"`
	Comment    string                 `json:"comment"`
}

type reviewRequest struct {
	Approve *bool  `json:"approve"`
	Comment string `json:"comment"`
}

// ServeList handles GET /companies/{id}/applications.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	as, err := h.Applications.List(ctx, p, companyID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, as)
}

// HandleCreate handles POST /companies/{id}/applications.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	var req createRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode create application", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	a, err := h.Applications.Create(ctx, p, companyID, applicationsvc.CreateInput{
		Type:       req.Type,
		CustomType: req.CustomType,
		Comment:    req.Comment,
	})
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusCreated, a)
}

// HandleAssistantReview handles
// POST /companies/{id}/applications/{appId}/assistant-review.
func (h *Handler) HandleAssistantReview(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Applications.AssistantReview)
}

// HandleDirectorReview handles
// POST /companies/{id}/applications/{appId}/director-review.
func (h *Handler) HandleDirectorReview(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Applications.DirectorReview)
}

// ServeStats handles GET /applications/stats.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	stats, err := h.Applications.Stats(ctx, p)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, stats)
}

type reviewFunc func(ctx context.Context, p *auth.Principal, companyID, appID primitive.ObjectID, in applicationsvc.ReviewInput) (models.Application, error)

func (h *Handler) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	appID, err := formutil.PathID(r, "appId")
	if err != nil {
		h.ErrLog.Write(w, r, apperr.NotFound("Заявка не найдена"))
		return
	}
	var req reviewRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode review", err, formutil.BadBodyMessage)
		return
	}
	if req.Approve == nil {
		h.ErrLog.Write(w, r, apperr.Validation("approve", "Укажите решение по заявке."))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	a, err := fn(ctx, p, companyID, appID, applicationsvc.ReviewInput{Approve: *req.Approve, Comment: req.Comment})
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, a)
}
