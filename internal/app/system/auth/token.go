// internal/app/system/auth/token.go
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims is the bearer token payload. Roles holds one "<companyID>:<Role>"
// entry per accepted membership.
type Claims struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// RoleClaim formats one entry of Claims.Roles.
func RoleClaim(companyID string, role models.Role) string {
	return companyID + ":" + string(role)
}

// ParseRoleClaim splits a Claims.Roles entry.
func ParseRoleClaim(s string) (companyID string, role models.Role, ok bool) {
	id, name, found := strings.Cut(s, ":")
	if !found || id == "" {
		return "", models.RoleNone, false
	}
	r, ok := models.ParseRole(name)
	return id, r, ok
}

// TokenConfig configures minting and verification.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Tokens mints and verifies HS256 bearer tokens.
type Tokens struct {
	cfg TokenConfig
	now func() time.Time
}

// ErrInvalidToken is returned by Verify for any token that must be refused.
var ErrInvalidToken = errors.New("invalid token")

// NewTokens constructs a Tokens. An empty secret is rejected.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Tokens{cfg: cfg, now: time.Now}, nil
}

// SetClock replaces the time source. Tests only.
func (t *Tokens) SetClock(now func() time.Time) { t.now = now }

// Mint issues a token for u carrying a role claim for every accepted
// membership. Each token gets a fresh ULID as jti.
func (t *Tokens) Mint(u models.User, memberships []models.Membership) (string, *Claims, error) {
	now := t.now().UTC()
	claims := &Claims{
		Name:  u.Email,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.Hex(),
			Issuer:    t.cfg.Issuer,
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TTL)),
		},
	}
	for _, m := range memberships {
		if !m.Accepted() {
			continue
		}
		claims.Roles = append(claims.Roles, RoleClaim(m.CompanyID.Hex(), m.Role))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, issuer, audience and expiry.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.cfg.Secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
