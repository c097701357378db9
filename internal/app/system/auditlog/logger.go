// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/unchainme/internal/app/store/audit"
	"github.com/dalemusser/unchainme/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for authentication events (login, second factor, channel linking).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
	// Admin controls logging for company administration events (companies, invitations, members).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Admin string
}

// Store persists audit events. *audit.Store satisfies it.
type Store interface {
	Log(ctx context.Context, event audit.Event) error
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via Store) and structured logs (via zap).
type Logger struct {
	store  Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.CompanyID != nil {
		fields = append(fields, zap.String("company_id", event.CompanyID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}

	if setting == "off" {
		return
	}
	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// --- Authentication Events ---

// PasswordAccepted logs the first factor passing and a challenge being issued.
func (l *Logger) PasswordAccepted(ctx context.Context, r *http.Request, userID primitive.ObjectID, challengeID string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginPasswordOK,
		UserID:    &userID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
		Details:   map[string]string{"challenge_id": challengeID},
	})
}

// LoginFailed logs a rejected password step. The reason is recorded but
// never returned to the caller.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, email, reason string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailed,
		IP:            ratelimit.ClientIP(r),
		Success:       false,
		FailureReason: reason,
		Details:       map[string]string{"attempted_email": email},
	})
}

// LoginRateLimited logs a login blocked by the rate limiter.
func (l *Logger) LoginRateLimited(ctx context.Context, r *http.Request, email string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailedRateLimit,
		IP:            ratelimit.ClientIP(r),
		Success:       false,
		FailureReason: "rate limit exceeded",
		Details:       map[string]string{"attempted_email": email},
	})
}

// SecondFactorApproved logs an approval; via is "code" or "channel".
func (l *Logger) SecondFactorApproved(ctx context.Context, userID primitive.ObjectID, challengeID, via string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventSecondFactorApproved,
		UserID:    &userID,
		Success:   true,
		Details:   map[string]string{"challenge_id": challengeID, "via": via},
	})
}

// SecondFactorRejected logs a rejection from the channel or from too many wrong codes.
func (l *Logger) SecondFactorRejected(ctx context.Context, userID primitive.ObjectID, challengeID, reason string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventSecondFactorRejected,
		UserID:        &userID,
		Success:       false,
		FailureReason: reason,
		Details:       map[string]string{"challenge_id": challengeID},
	})
}

// CodeInvalid logs a wrong one-time code.
func (l *Logger) CodeInvalid(ctx context.Context, userID primitive.ObjectID, challengeID string, attempts int) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventSecondFactorCodeInvalid,
		UserID:        &userID,
		Success:       false,
		FailureReason: "invalid code",
		Details:       map[string]string{"challenge_id": challengeID, "attempts": strconv.Itoa(attempts)},
	})
}

// TokenIssued logs a bearer token being minted.
func (l *Logger) TokenIssued(ctx context.Context, userID primitive.ObjectID, tokenID string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventTokenIssued,
		UserID:    &userID,
		Success:   true,
		Details:   map[string]string{"jti": tokenID},
	})
}

// ChannelLinked logs a Telegram chat being bound to an account.
func (l *Logger) ChannelLinked(ctx context.Context, userID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventChannelLinked,
		UserID:    &userID,
		Success:   true,
	})
}

// UserRegistered logs a new account.
func (l *Logger) UserRegistered(ctx context.Context, r *http.Request, userID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventUserRegistered,
		UserID:    &userID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
	})
}

// EmailConfirmed logs a confirmed email address.
func (l *Logger) EmailConfirmed(ctx context.Context, userID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventEmailConfirmed,
		UserID:    &userID,
		Success:   true,
	})
}

// UserDeleted logs an account deletion.
func (l *Logger) UserDeleted(ctx context.Context, userID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventUserDeleted,
		UserID:    &userID,
		Success:   true,
	})
}

// --- Admin Events ---

func (l *Logger) admin(ctx context.Context, eventType string, actorID, companyID primitive.ObjectID, userID *primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: eventType,
		ActorID:   &actorID,
		CompanyID: &companyID,
		UserID:    userID,
		Success:   true,
		Details:   details,
	})
}

// CompanyCreated logs a new company.
func (l *Logger) CompanyCreated(ctx context.Context, actorID, companyID primitive.ObjectID, name string) {
	l.admin(ctx, audit.EventCompanyCreated, actorID, companyID, nil, map[string]string{"name": name})
}

// CompanyDeleted logs a company and its dependents being removed.
func (l *Logger) CompanyDeleted(ctx context.Context, actorID, companyID primitive.ObjectID) {
	l.admin(ctx, audit.EventCompanyDeleted, actorID, companyID, nil, nil)
}

// InvitationCreated logs an invitation being sent.
func (l *Logger) InvitationCreated(ctx context.Context, actorID, companyID primitive.ObjectID, invitationID, email, role string) {
	l.admin(ctx, audit.EventInvitationCreated, actorID, companyID, nil, map[string]string{
		"invitation_id": invitationID,
		"email":         email,
		"role":          role,
	})
}

// InvitationAccepted logs a user joining a company.
func (l *Logger) InvitationAccepted(ctx context.Context, userID, companyID primitive.ObjectID, invitationID string) {
	l.admin(ctx, audit.EventInvitationAccepted, userID, companyID, &userID, map[string]string{"invitation_id": invitationID})
}

// InvitationCanceled logs an invitation being withdrawn.
func (l *Logger) InvitationCanceled(ctx context.Context, actorID, companyID primitive.ObjectID, invitationID string) {
	l.admin(ctx, audit.EventInvitationCanceled, actorID, companyID, nil, map[string]string{"invitation_id": invitationID})
}

// MemberRemoved logs a user being removed from a company.
func (l *Logger) MemberRemoved(ctx context.Context, actorID, companyID, userID primitive.ObjectID) {
	l.admin(ctx, audit.EventMemberRemoved, actorID, companyID, &userID, nil)
}
