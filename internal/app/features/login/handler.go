// internal/app/features/login/handler.go
package login

import (
	"context"
	"net/http"
	"strings"
	"time"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/services/accounts"
	"github.com/dalemusser/unchainme/internal/app/services/handshake"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/captcha"
	"github.com/dalemusser/unchainme/internal/app/system/formutil"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	"github.com/dalemusser/unchainme/internal/app/system/ratelimit"
	"github.com/dalemusser/unchainme/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Handler serves the unauthenticated /auth endpoints: registration, email
// confirmation and the two-step login handshake.
type Handler struct {
	Accounts  *accounts.Service
	Handshake *handshake.Engine
	Captcha   *captcha.Verifier
	Logins    *ratelimit.Guard // keyed by client IP and email
	Resends   *ratelimit.Guard // keyed by client IP and email or challenge id
	AuditLog  *auditlog.Logger
	ErrLog    *uierrors.ErrorLogger
	Log       *zap.Logger
}

// NewHandler constructs a login Handler. A nil guard disables that limit.
func NewHandler(
	acc *accounts.Service,
	engine *handshake.Engine,
	verifier *captcha.Verifier,
	logins, resends *ratelimit.Guard,
	audit *auditlog.Logger,
	errLog *uierrors.ErrorLogger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		Accounts:  acc,
		Handshake: engine,
		Captcha:   verifier,
		Logins:    logins,
		Resends:   resends,
		AuditLog:  audit,
		ErrLog:    errLog,
		Log:       logger,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Request / response bodies                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

type loginResponse struct {
	ChallengeID  string    `json:"challengeId"`
	RequiresCode bool      `json:"requiresCode"`
	Delivered    bool      `json:"delivered"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type confirmLoginRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

type tokenResponse struct {
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expiresAt"`
	FirstSecondFactor bool      `json:"firstSecondFactor"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/register                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode register", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	u, err := h.Accounts.Register(ctx, accounts.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Surname:  req.Surname,
	})
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	h.AuditLog.UserRegistered(ctx, r, u.ID)

	uierrors.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":      u.ID.Hex(),
		"email":   u.Email,
		"message": "Регистрация прошла успешно. Проверьте почту, чтобы подтвердить email.",
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/confirm-email?userId=…&token=…                                    |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	q := r.URL.Query()
	if err := h.Accounts.ConfirmEmail(ctx, q.Get("userId"), q.Get("token")); err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, statusResponse{Status: "confirmed", Message: "Email подтверждён."})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/resend-confirmation                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// HandleResendConfirmation always answers 200 so the endpoint does not
// reveal which addresses are registered.
func (h *Handler) HandleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode resend confirmation", err, formutil.BadBodyMessage)
		return
	}
	email := normalize.Email(req.Email)
	if h.Resends != nil && !h.Resends.Check(r, email) {
		ratelimit.TooManyRequests(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Accounts.ResendConfirmation(ctx, email); err != nil {
		if _, ok := apperr.As(err); !ok {
			h.ErrLog.LogServerError(w, r, "resend confirmation failed", err)
			return
		}
		h.Log.Debug("resend confirmation refused", zap.Error(err))
	}
	uierrors.WriteJSON(w, http.StatusOK, statusResponse{
		Status:  "sent",
		Message: "Если адрес зарегистрирован и не подтверждён, мы отправили письмо повторно.",
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/login                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode login", err, formutil.BadBodyMessage)
		return
	}
	email := normalize.Email(req.Email)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if h.Logins != nil && !h.Logins.Check(r, email) {
		h.AuditLog.LoginRateLimited(ctx, r, email)
		ratelimit.TooManyRequests(w)
		return
	}

	if h.Captcha != nil && h.Captcha.Enabled() {
		ok, err := h.Captcha.Verify(ctx, req.CaptchaToken, ratelimit.ClientIP(r))
		if err != nil {
			h.Log.Warn("captcha verification unavailable", zap.Error(err))
		}
		if !ok {
			h.AuditLog.LoginFailed(ctx, r, email, "captcha")
			h.ErrLog.Write(w, r, apperr.Authentication(apperr.CodeCaptchaFailed, "Проверка капчи не пройдена."))
			return
		}
	}

	ch, err := h.Handshake.Begin(ctx, email, req.Password)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindAuthentication {
			h.AuditLog.LoginFailed(ctx, r, email, e.Code)
		}
		h.ErrLog.Write(w, r, err)
		return
	}
	if h.Logins != nil {
		h.Logins.Succeeded(email)
	}
	h.AuditLog.PasswordAccepted(ctx, r, ch.UserID, ch.ID)

	uierrors.WriteJSON(w, http.StatusOK, loginResponse{
		ChallengeID:  ch.ID,
		RequiresCode: true,
		Delivered:    ch.Delivered,
		ExpiresAt:    ch.ExpiresAt,
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/confirm-login                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

// HandleConfirmLogin submits a code, or polls when the code is empty.
// Pending is answered 400 so clients keep the user on the code screen.
func (h *Handler) HandleConfirmLogin(w http.ResponseWriter, r *http.Request) {
	var req confirmLoginRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode confirm login", err, formutil.BadBodyMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	out, err := h.Handshake.Confirm(ctx, req.ChallengeID, strings.TrimSpace(req.Code))
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	switch out.State {
	case handshake.StateTokenIssued:
		uierrors.WriteJSON(w, http.StatusOK, tokenResponse{
			Token:             out.Token,
			ExpiresAt:         out.ExpiresAt,
			FirstSecondFactor: out.FirstSecondFactor,
		})
	case handshake.StateApproved:
		uierrors.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  string(handshake.StateApproved),
			Message: "Вход уже подтверждён.",
		})
	default:
		uierrors.WriteJSON(w, http.StatusBadRequest, statusResponse{
			Status:  string(handshake.StatePending),
			Message: "Ожидаем подтверждения входа.",
		})
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/resend-code                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req confirmLoginRequest
	if err := formutil.Decode(w, r, &req); err != nil {
		h.ErrLog.LogBadRequest(w, r, "decode resend code", err, formutil.BadBodyMessage)
		return
	}
	if h.Resends != nil && !h.Resends.Check(r, req.ChallengeID) {
		ratelimit.TooManyRequests(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	ch, err := h.Handshake.ResendCode(ctx, req.ChallengeID)
	if err != nil {
		h.ErrLog.Write(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, loginResponse{
		ChallengeID:  ch.ID,
		RequiresCode: true,
		Delivered:    ch.Delivered,
		ExpiresAt:    ch.ExpiresAt,
	})
}
