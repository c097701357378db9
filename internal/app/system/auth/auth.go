// internal/app/system/auth/auth.go
// Package auth carries the signed-in user through a request.
//
// Handlers read the caller with CurrentUser and pass the Principal into
// service calls explicitly; nothing below the handler layer looks at the
// request context for identity.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ID      primitive.ObjectID
	Email   string
	TokenID string
	Roles   []string
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the principal & “found?” flag.
func CurrentUser(r *http.Request) (*Principal, bool) {
	return FromContext(r.Context())
}

// FromContext is CurrentUser for code that only has a context.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(currentUserKey).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, currentUserKey, p)
}

// WithTestUser injects p into r. Tests only.
func WithTestUser(r *http.Request, p *Principal) *http.Request {
	return r.WithContext(WithPrincipal(r.Context(), p))
}

// Middleware verifies bearer tokens.
type Middleware struct {
	tokens *Tokens
	log    *zap.Logger
}

// NewMiddleware constructs a Middleware.
func NewMiddleware(tokens *Tokens, logger *zap.Logger) *Middleware {
	return &Middleware{tokens: tokens, log: logger}
}

// LoadUser injects the principal when the request carries a valid token.
// Requests without one pass through unchanged; an invalid token is treated
// the same as no token.
func (m *Middleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.tokens.Verify(raw)
		if err != nil {
			m.log.Debug("bearer token rejected", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		id, err := primitive.ObjectIDFromHex(claims.Subject)
		if err != nil {
			// Malformed subject - fail closed.
			next.ServeHTTP(w, r)
			return
		}
		p := &Principal{ID: id, Email: claims.Email, TokenID: claims.ID, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireSignedIn answers 401 unless LoadUser found a valid token.
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":  "invalid_token",
			"error": "Требуется авторизация.",
		})
	})
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
