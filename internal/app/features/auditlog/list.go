// internal/app/features/auditlog/list.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/store/audit"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"go.uber.org/zap"
)

const (
	pageSize   = 50
	dateLayout = "2006-01-02"
)

type listResponse struct {
	Events  []audit.Event `json:"events"`
	Page    int           `json:"page"`
	HasMore bool          `json:"hasMore"`
}

// ServeList handles GET /companies/{id}/audit.
//
// Query parameters: category, event_type, start_date and end_date
// (YYYY-MM-DD, end_date inclusive), page (1-based).
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)
	companyID, err := formutil.PathID(r, "id")
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	q := r.URL.Query()
	page := 1
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		page = n
	}

	filter := audit.QueryFilter{
		CompanyID: &companyID,
		Category:  strings.TrimSpace(q.Get("category")),
		EventType: strings.TrimSpace(q.Get("event_type")),
		Limit:     pageSize + 1,
		Offset:    int64((page - 1) * pageSize),
	}
	if s := strings.TrimSpace(q.Get("start_date")); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			h.ErrLog.Write(w, r, apperr.Validation("start_date", "Дата должна быть в формате ГГГГ-ММ-ДД."))
			return
		}
		filter.StartTime = &t
	}
	if s := strings.TrimSpace(q.Get("end_date")); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			h.ErrLog.Write(w, r, apperr.Validation("end_date", "Дата должна быть в формате ГГГГ-ММ-ДД."))
			return
		}
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	if _, err := h.Policy.Authorize(ctx, p.ID, companyID, authz.ViewAuditLog); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}

	events, err := h.Events.Query(ctx, filter)
	if err != nil {
		h.Log.Error("failed to query audit events", zap.Error(err), zap.String("company_id", companyID.Hex()))
		h.ErrLog.Write(w, r, err)
		return
	}

	resp := listResponse{Events: events, Page: page}
	if len(events) > pageSize {
		resp.Events = events[:pageSize]
		resp.HasMore = true
	}
	uierrors.WriteJSON(w, http.StatusOK, resp)
}
