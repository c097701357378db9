package login_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/features/login"
	"github.com/dalemusser/unchainme/internal/app/services/accounts"
	"github.com/dalemusser/unchainme/internal/app/services/handshake"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/captcha"
	"github.com/dalemusser/unchainme/internal/app/system/ratelimit"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) SendLoginCode(_ context.Context, _ int64, challengeID, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[challengeID] = code
	return nil
}

func (b *codeBox) code(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[id]
}

type env struct {
	db      *testutil.MemDB
	box     *codeBox
	tokens  *auth.Tokens
	engine  *handshake.Engine
	handler *login.Handler
	router  chi.Router
}

func newEnv(t *testing.T, verifier *captcha.Verifier, logins *ratelimit.Guard) *env {
	t.Helper()
	db := testutil.NewMemDB()
	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"), Issuer: "unchainme", Audience: "unchainme-web", TTL: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	acc := accounts.New(accounts.Deps{
		Users: db.Users, Confirmations: db.Confirmations, Owners: db.Companies,
		Memberships: db.Memberships, Mailer: &testutil.Outbox{}, Tx: testutil.NoTx{},
	}, accounts.Config{BaseURL: "http://localhost", BcryptCost: bcrypt.MinCost})
	box := &codeBox{codes: map[string]string{}}
	engine := handshake.New(handshake.Deps{
		Credentials: acc,
		Users:       db.Users,
		Challenges:  db.Challenges,
		Memberships: db.Memberships,
		Sender:      box,
		Tokens:      tokens,
	}, handshake.Config{CodeCost: bcrypt.MinCost})

	logger := zap.NewNop()
	h := login.NewHandler(acc, engine, verifier, logins, nil, nil, uierrors.NewErrorLogger(logger), logger)
	r := chi.NewRouter()
	r.Mount("/auth", login.Routes(h))
	return &env{db: db, box: box, tokens: tokens, engine: engine, handler: h, router: r}
}

func (e *env) do(t *testing.T, method, target string, body any) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, testutil.NewJSONRequest(t, method, target, body))
	return rec
}

func TestFullLoginScenario(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	rec := e.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": "a@x.com", "password": "Secret1", "name": "Анна", "surname": "Иванова",
	})
	rec.AssertStatus(t, http.StatusCreated)
	u, err := e.db.Users.GetByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}

	// Login before confirming is refused.
	rec = e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "Secret1"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, apperr.CodeEmailNotConfirmed)

	q := url.Values{"userId": {u.ID.Hex()}, "token": {e.db.Confirmations.TokenFor(u.ID)}}
	rec = e.do(t, http.MethodGet, "/auth/confirm-email?"+q.Encode(), nil)
	rec.AssertStatus(t, http.StatusOK)

	if err := e.engine.LinkChannel(ctx, "a@x.com", 4242); err != nil {
		t.Fatalf("LinkChannel: %v", err)
	}
	owner := e.db.AddUser(t, "boss@x.com")
	company := e.db.AddCompany(t, owner, "Acme")
	u, _ = e.db.Users.GetByID(ctx, u.ID)
	e.db.AddMember(t, company.ID, u, models.RoleManager)

	rec = e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "A@x.com ", "password": "Secret1"})
	rec.AssertStatus(t, http.StatusOK)
	var started struct {
		ChallengeID  string `json:"challengeId"`
		RequiresCode bool   `json:"requiresCode"`
		Delivered    bool   `json:"delivered"`
	}
	rec.DecodeJSON(t, &started)
	if started.ChallengeID == "" || !started.RequiresCode || !started.Delivered {
		t.Fatalf("login response = %+v", started)
	}
	code := e.box.code(started.ChallengeID)

	rec = e.do(t, http.MethodPost, "/auth/confirm-login", map[string]string{"challengeId": started.ChallengeID, "code": "XXXX"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "Неверный код")

	rec = e.do(t, http.MethodPost, "/auth/confirm-login", map[string]string{"challengeId": started.ChallengeID, "code": code})
	rec.AssertStatus(t, http.StatusOK)
	var tok struct {
		Token string `json:"token"`
	}
	rec.DecodeJSON(t, &tok)
	claims, err := e.tokens.Verify(tok.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != u.ID.Hex() {
		t.Errorf("subject = %s, want %s", claims.Subject, u.ID.Hex())
	}
	want := auth.RoleClaim(company.ID.Hex(), models.RoleManager)
	if len(claims.Roles) != 1 || claims.Roles[0] != want {
		t.Errorf("roles = %v, want [%s]", claims.Roles, want)
	}

	// A second correct submission does not mint another token.
	rec = e.do(t, http.MethodPost, "/auth/confirm-login", map[string]string{"challengeId": started.ChallengeID, "code": code})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"status":"approved"`)
}

func TestConfirmLogin_PendingIs400(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.db.AddUser(t, "a@x.com")

	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": testutil.DefaultPassword})
	rec.AssertStatus(t, http.StatusOK)
	var started struct {
		ChallengeID string `json:"challengeId"`
	}
	rec.DecodeJSON(t, &started)

	rec = e.do(t, http.MethodPost, "/auth/confirm-login", map[string]string{"challengeId": started.ChallengeID})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"status":"pending"`)
}

func TestLogin_Failures(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.db.AddUser(t, "linked@x.com")
	e.db.AddUser(t, "unlinked@x.com", testutil.Unlinked())

	tests := []struct {
		name string
		body any
		code string
	}{
		{"wrong password", map[string]string{"email": "linked@x.com", "password": "Wrong1"}, apperr.CodeInvalidCredentials},
		{"unknown email", map[string]string{"email": "ghost@x.com", "password": "Secret1"}, apperr.CodeInvalidCredentials},
		{"channel not linked", map[string]string{"email": "unlinked@x.com", "password": testutil.DefaultPassword}, apperr.CodeChannelNotLinked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/auth/login", tt.body)
			rec.AssertStatus(t, http.StatusBadRequest)
			rec.AssertContains(t, tt.code)
		})
	}

	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestLogin_RateLimited(t *testing.T) {
	guard := ratelimit.NewGuard(100, 2, time.Minute)
	defer guard.Stop()
	e := newEnv(t, nil, guard)
	e.db.AddUser(t, "a@x.com")

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "Wrong1"})
		rec.AssertStatus(t, http.StatusBadRequest)
	}
	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": testutil.DefaultPassword})
	rec.AssertStatus(t, http.StatusTooManyRequests)
}

func TestLogin_Captcha(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":%t}`, r.URL.Query().Get("response") == "good")
	}))
	defer srv.Close()

	e := newEnv(t, captcha.New("secret").WithEndpoint(srv.URL), nil)
	e.db.AddUser(t, "a@x.com")

	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "a@x.com", "password": testutil.DefaultPassword, "captchaToken": "bad",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, apperr.CodeCaptchaFailed)

	rec = e.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "a@x.com", "password": testutil.DefaultPassword, "captchaToken": "good",
	})
	rec.AssertStatus(t, http.StatusOK)
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t, nil, nil)
	rec := e.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": "a@x.com", "password": "short", "name": "A",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	var body uierrors.Body
	rec.DecodeJSON(t, &body)
	if body.Field != "password" {
		t.Errorf("field = %q, want password", body.Field)
	}
}

func TestResendConfirmation_AlwaysOK(t *testing.T) {
	e := newEnv(t, nil, nil)
	for _, email := range []string{"ghost@x.com", "not-an-email"} {
		rec := e.do(t, http.MethodPost, "/auth/resend-confirmation", map[string]string{"email": email})
		rec.AssertStatus(t, http.StatusOK)
	}
}

func TestResendCode(t *testing.T) {
	e := newEnv(t, nil, nil)
	e.db.AddUser(t, "a@x.com")

	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": testutil.DefaultPassword})
	var started struct {
		ChallengeID string `json:"challengeId"`
	}
	rec.DecodeJSON(t, &started)

	rec = e.do(t, http.MethodPost, "/auth/resend-code", map[string]string{"challengeId": started.ChallengeID})
	rec.AssertStatus(t, http.StatusOK)
	second := e.box.code(started.ChallengeID)

	rec = e.do(t, http.MethodPost, "/auth/confirm-login", map[string]string{"challengeId": started.ChallengeID, "code": second})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"token"`)

	rec = e.do(t, http.MethodPost, "/auth/resend-code", map[string]string{"challengeId": "000000000000000000000000"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, apperr.CodeExpiredChallenge)
}
