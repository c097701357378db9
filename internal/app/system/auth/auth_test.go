package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func newTestTokens(t *testing.T) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret:   []byte("test-secret-key-must-be-32-chars-long"),
		Issuer:   "unchainme",
		Audience: "unchainme-web",
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func testUser() models.User {
	return models.User{ID: primitive.NewObjectID(), Email: "a@x.com"}
}

func TestMint_RoleClaimsFollowAcceptedMemberships(t *testing.T) {
	tokens := newTestTokens(t)
	u := testUser()
	now := time.Now()
	c1, c2 := primitive.NewObjectID(), primitive.NewObjectID()
	memberships := []models.Membership{
		{CompanyID: c1, UserID: u.ID, Role: models.RoleManager, AcceptedAt: &now},
		{CompanyID: c2, UserID: u.ID, Role: models.RoleAdmin}, // not accepted
	}

	raw, claims, err := tokens.Mint(u, memberships)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != auth.RoleClaim(c1.Hex(), models.RoleManager) {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}

	got, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Subject != u.ID.Hex() || got.Email != u.Email || got.Name != u.Email {
		t.Errorf("claims mismatch: %+v", got)
	}
	if got.ID == "" {
		t.Error("expected a token id")
	}
}

func TestMint_FreshTokenIDs(t *testing.T) {
	tokens := newTestTokens(t)
	u := testUser()
	_, a, _ := tokens.Mint(u, nil)
	_, b, _ := tokens.Mint(u, nil)
	if a.ID == b.ID {
		t.Error("expected distinct jti values")
	}
}

func TestVerify_Rejects(t *testing.T) {
	tokens := newTestTokens(t)
	raw, _, err := tokens.Mint(testUser(), nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	other, _ := auth.NewTokens(auth.TokenConfig{
		Secret:   []byte("another-secret-key-32-chars-long!!"),
		Issuer:   "unchainme",
		Audience: "unchainme-web",
	})
	if _, err := other.Verify(raw); err == nil {
		t.Error("expected signature mismatch to fail")
	}

	wrongAud, _ := auth.NewTokens(auth.TokenConfig{
		Secret:   []byte("test-secret-key-must-be-32-chars-long"),
		Issuer:   "unchainme",
		Audience: "someone-else",
	})
	if _, err := wrongAud.Verify(raw); err == nil {
		t.Error("expected audience mismatch to fail")
	}

	tokens.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if _, err := tokens.Verify(raw); err == nil {
		t.Error("expected expired token to fail")
	}

	if _, err := tokens.Verify("not-a-token"); err == nil {
		t.Error("expected garbage to fail")
	}
}

func TestParseRoleClaim(t *testing.T) {
	id, role, ok := auth.ParseRoleClaim("65a0c0ffee:Director")
	if !ok || id != "65a0c0ffee" || role != models.RoleDirector {
		t.Errorf("got %q %q %v", id, role, ok)
	}
	if _, _, ok := auth.ParseRoleClaim("nonsense"); ok {
		t.Error("expected malformed claim to fail")
	}
}

func TestRequireSignedIn(t *testing.T) {
	tokens := newTestTokens(t)
	mw := auth.NewMiddleware(tokens, zap.NewNop())
	h := mw.LoadUser(auth.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.CurrentUser(r)
		w.Write([]byte(p.Email))
	})))

	// No token
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/companies", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}

	// Garbage token
	req := httptest.NewRequest("GET", "/companies", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}

	// Valid header token
	raw, _, _ := tokens.Mint(testUser(), nil)
	req = httptest.NewRequest("GET", "/companies", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "a@x.com" {
		t.Errorf("valid token: got %d %q", rec.Code, rec.Body.String())
	}

	// Valid query token (websocket upgrade)
	req = httptest.NewRequest("GET", "/notifications/ws?access_token="+raw, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query token: expected 200, got %d", rec.Code)
	}
}
