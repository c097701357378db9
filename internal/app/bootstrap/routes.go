// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"
	"time"

	applicationsfeature "github.com/dalemusser/unchainme/internal/app/features/applications"
	auditlogfeature "github.com/dalemusser/unchainme/internal/app/features/auditlog"
	companiesfeature "github.com/dalemusser/unchainme/internal/app/features/companies"
	errorsfeature "github.com/dalemusser/unchainme/internal/app/features/errors"
	healthfeature "github.com/dalemusser/unchainme/internal/app/features/health"
	invitationsfeature "github.com/dalemusser/unchainme/internal/app/features/invitations"
	loginfeature "github.com/dalemusser/unchainme/internal/app/features/login"
	notificationsfeature "github.com/dalemusser/unchainme/internal/app/features/notifications"
	profilefeature "github.com/dalemusser/unchainme/internal/app/features/profile"
	tasksfeature "github.com/dalemusser/unchainme/internal/app/features/tasks"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed, so every service in deps is ready. The router
// applies request ids, panic recovery, CORS and bearer-token loading, then
// mounts the JSON feature routers.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.rt
	if rt == nil || rt.Accounts == nil {
		return nil, errors.New("build handler: Startup has not run")
	}

	// Create error logger for handlers.
	errLog := errorsfeature.NewErrorLogger(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(appCfg.CORSAllowedOrigins)))

	// Global auth middleware: loads the Principal into context when the
	// request carries a valid bearer token.
	r.Use(auth.NewMiddleware(rt.Tokens, logger).LoadUser)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errLog.Write(w, req, apperr.NotFound("Ресурс не найден"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errorsfeature.WriteJSON(w, http.StatusMethodNotAllowed, errorsfeature.Body{
			Code:  apperr.CodeInvalidInput,
			Error: "Метод не поддерживается.",
		})
	})

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Registration, login handshake and email confirmation
	loginHandler := loginfeature.NewHandler(rt.Accounts, rt.Handshake, rt.Captcha, rt.Logins, rt.Resends, rt.Audit, errLog, logger)
	r.Mount("/auth", loginfeature.Routes(loginHandler))

	profileHandler := profilefeature.NewHandler(rt.Accounts, errLog, logger)
	r.Mount("/users", profilefeature.Routes(profileHandler))

	// Company workspace
	companiesfeature.MountRoutes(r, companiesfeature.NewHandler(rt.Companies, errLog, logger))
	invitationsfeature.MountRoutes(r, invitationsfeature.NewHandler(rt.Invitations, errLog, logger))
	tasksfeature.MountRoutes(r, tasksfeature.NewHandler(rt.Tasks, errLog, logger))
	applicationsfeature.MountRoutes(r, applicationsfeature.NewHandler(rt.Applications, errLog, logger))
	auditlogfeature.MountRoutes(r, auditlogfeature.NewHandler(rt.AuditEvents, rt.Policy, errLog, logger))

	// Live notifications
	notificationsfeature.MountRoutes(r, notificationsfeature.NewHandler(rt.Hub, appCfg.CORSAllowedOrigins, errLog, logger))

	return r, nil
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}
}
