// internal/app/features/notifications/handler.go
package notifications

import (
	"net/http"
	"strings"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades signed-in clients to a notification websocket.
type Handler struct {
	Hub      *notify.Hub
	Upgrader websocket.Upgrader
	ErrLog   *uierrors.ErrorLogger
	Log      *zap.Logger
}

// NewHandler constructs a notifications Handler. allowedOrigins follows the
// CORS list: empty or "*" accepts any origin.
func NewHandler(hub *notify.Hub, allowedOrigins []string, errLog *uierrors.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		Hub: hub,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		ErrLog: errLog,
		Log:    logger,
	}
}

// ServeSocket handles GET /notifications/ws.
func (h *Handler) ServeSocket(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.CurrentUser(r)

	// Upgrade writes its own error response.
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Debug("websocket upgrade failed", zap.String("user_id", p.ID.Hex()), zap.Error(err))
		return
	}
	h.Hub.Attach(conn, p.ID.Hex())
	h.Log.Debug("notification socket attached", zap.String("user_id", p.ID.Hex()))
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
