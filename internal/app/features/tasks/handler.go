// internal/app/features/tasks/handler.go
package tasks

import (
	"context"
	"fmt"
	"net/http"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	tasksvc "github.com/dalemusser/unchainme/internal/app/services/tasks"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves company tasks.
type Handler struct {
	Tasks  *tasksvc.Service
	ErrLog *uierrors.ErrorLogger
	Log    *zap.Logger
}

// NewHandler constructs a tasks Handler.
func NewHandler(svc *tasksvc.Service, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{Tasks: svc, ErrLog: errLog, Log: logger}
}

type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type statusRequest struct {
	Status models.TaskStatus `json:"status"`
}

// ids reads the company and task ids from the path. The task id is
// skipped when the route has none.
func (h *Handler) ids(w http.ResponseWriter, r *http.Request, withTask bool) (companyID, taskID primitive.ObjectID, ok bool) {
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return companyID, taskID, false
	}
	if withTask {
		if taskID, err = formutil.PathID(r, "taskId"); err != nil {
			h.ErrLog.Write(w, r, apperr.NotFound("Задача не найдена"))
			return companyID, taskID, false
		}
	}
	return companyID, taskID, true
}

// ServeList handles GET /companies/{id}/tasks.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, _, ok := h.ids(w, r, false)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	ts, err := h.Tasks.List(ctx, p, companyID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, ts)
}

// HandleCreate handles POST /companies/{id}/tasks.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, _, ok := h.ids(w, r, false)
	if !ok {
		return
	}
	var req createRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode create task", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	t, err := h.Tasks.Create(ctx, p, companyID, tasksvc.CreateInput{Title: req.Title, Description: req.Description})
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusCreated, t)
}

// HandleClaim handles POST /companies/{id}/tasks/{taskId}/claim.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Tasks.Claim)
}

// HandleStatus handles PATCH /companies/{id}/tasks/{taskId}/status. Done is
// the only status a client may set directly.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode task status", err, formutil.BadBodyMessage)
		return
	}
	if req.Status != models.TaskDone {
		h.ErrLog.Write(w, r, apperr.Validation("status", fmt.Sprintf("Недопустимый целевой статус: %s", req.Status)))
		return
	}
	h.transition(w, r, h.Tasks.Complete)
}

// HandleUnassign handles PATCH /companies/{id}/tasks/{taskId}/unassign.
func (h *Handler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Tasks.Unassign)
}

// HandleDelete handles DELETE /companies/{id}/tasks/{taskId}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, taskID, ok := h.ids(w, r, true)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Tasks.Delete(ctx, p, companyID, taskID); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, p *auth.Principal, companyID, taskID primitive.ObjectID) (models.Task, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	p, _ := auth.CurrentUser(r)
	companyID, taskID, ok := h.ids(w, r, true)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	t, err := fn(ctx, p, companyID, taskID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, t)
}
