// internal/app/features/auditlog/handler.go
package auditlog

import (
	"context"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/store/audit"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"go.uber.org/zap"
)

// EventQuerier reads audit events.
type EventQuerier interface {
	Query(ctx context.Context, f audit.QueryFilter) ([]audit.Event, error)
}

// Handler serves a company's audit trail.
type Handler struct {
	Events EventQuerier
	Policy *authz.Policy
	Log    *zap.Logger
	ErrLog *uierrors.ErrorLogger
}

// NewHandler constructs an audit log Handler.
func NewHandler(events EventQuerier, policy *authz.Policy, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		Events: events,
		Policy: policy,
		Log:    logger,
		ErrLog: errLog,
	}
}
