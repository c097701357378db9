package handshake_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/services/accounts"
	"github.com/dalemusser/unchainme/internal/app/services/handshake"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

// fakeSender remembers the last code sent per challenge.
type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	chats map[string]int64
	err   error
}

func newFakeSender() *fakeSender {
	return &fakeSender{codes: map[string]string{}, chats: map[string]int64{}}
}

func (f *fakeSender) SendLoginCode(_ context.Context, chatID int64, challengeID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.codes[challengeID] = code
	f.chats[challengeID] = chatID
	return nil
}

func (f *fakeSender) code(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[id]
}

type harness struct {
	db     *testutil.MemDB
	sender *fakeSender
	tokens *auth.Tokens
	engine *handshake.Engine
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewMemDB()
	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"), Issuer: "unchainme", Audience: "unchainme-web", TTL: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	creds := accounts.New(accounts.Deps{
		Users: db.Users, Confirmations: db.Confirmations, Owners: db.Companies,
		Memberships: db.Memberships, Mailer: &testutil.Outbox{}, Tx: testutil.NoTx{},
	}, accounts.Config{BcryptCost: bcrypt.MinCost})

	h := &harness{db: db, sender: newFakeSender(), tokens: tokens, now: time.Now().UTC()}
	h.engine = handshake.New(handshake.Deps{
		Credentials: creds,
		Users:       db.Users,
		Challenges:  db.Challenges,
		Memberships: db.Memberships,
		Sender:      h.sender,
		Tokens:      tokens,
	}, handshake.Config{CodeCost: bcrypt.MinCost})
	h.engine.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) begin(t *testing.T, email string) handshake.Challenge {
	t.Helper()
	ch, err := h.engine.Begin(context.Background(), email, testutil.DefaultPassword)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return ch
}

func wrongCode(right string) string {
	if right == "0000" {
		return "0001"
	}
	return "0000"
}

func TestLoginScenario_TokenCarriesMembershipRoles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.db.AddUser(t, "a@x.com")
	c1 := h.db.AddCompany(t, u, "Acme")
	boss := h.db.AddUser(t, "boss@x.com")
	c2 := h.db.AddCompany(t, boss, "Globex")
	h.db.AddMember(t, c2.ID, u, models.RoleManager)

	ch := h.begin(t, "a@x.com")
	if !ch.Delivered {
		t.Fatal("code not delivered")
	}
	code := h.sender.code(ch.ID)
	if len(code) != 4 {
		t.Fatalf("code %q is not 4 digits", code)
	}
	if h.sender.chats[ch.ID] != *u.ChannelChatID {
		t.Errorf("code sent to chat %d, want %d", h.sender.chats[ch.ID], *u.ChannelChatID)
	}

	_, err := h.engine.Confirm(ctx, ch.ID, wrongCode(code))
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeInvalidCode || e.Message != "Неверный код" {
		t.Fatalf("wrong code: err = %v", err)
	}

	out, err := h.engine.Confirm(ctx, ch.ID, code)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.State != handshake.StateTokenIssued || out.Token == "" {
		t.Fatalf("outcome = %+v, want token", out)
	}
	if !out.FirstSecondFactor {
		t.Error("first successful second factor not reported")
	}

	claims, err := h.tokens.Verify(out.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != u.ID.Hex() || claims.Email != "a@x.com" || claims.Name != "a@x.com" {
		t.Errorf("claims = %+v", claims)
	}
	want := map[string]bool{
		auth.RoleClaim(c1.ID.Hex(), models.RoleAdmin):   true,
		auth.RoleClaim(c2.ID.Hex(), models.RoleManager): true,
	}
	if len(claims.Roles) != len(want) {
		t.Fatalf("roles = %v, want %v", claims.Roles, want)
	}
	for _, r := range claims.Roles {
		if !want[r] {
			t.Errorf("unexpected role claim %q", r)
		}
	}

	// The same code again is a no-op with the approved outcome.
	again, err := h.engine.Confirm(ctx, ch.ID, code)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if again.State != handshake.StateApproved || again.Token != "" {
		t.Errorf("second outcome = %+v, want approved without token", again)
	}

	// The flag flips only once.
	next, err := h.engine.Confirm(ctx, h.approveNew(t, "a@x.com"), "")
	if err != nil {
		t.Fatal(err)
	}
	if next.FirstSecondFactor {
		t.Error("FirstSecondFactor reported on a later login")
	}
}

// approveNew begins a login and approves it from the channel.
func (h *harness) approveNew(t *testing.T, email string) string {
	t.Helper()
	ch := h.begin(t, email)
	u, _ := h.db.Users.GetByEmail(context.Background(), email)
	if err := h.engine.ApproveExternal(context.Background(), ch.ID, *u.ChannelChatID); err != nil {
		t.Fatalf("ApproveExternal: %v", err)
	}
	return ch.ID
}

func TestConfirm_PollUntilApprovedInChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.db.AddUser(t, "a@x.com")
	ch := h.begin(t, "a@x.com")

	out, err := h.engine.Confirm(ctx, ch.ID, "")
	if err != nil || out.State != handshake.StatePending {
		t.Fatalf("poll before approval = %+v, %v; want pending", out, err)
	}

	if err := h.engine.ApproveExternal(ctx, ch.ID, *u.ChannelChatID); err != nil {
		t.Fatalf("ApproveExternal: %v", err)
	}
	if err := h.engine.ApproveExternal(ctx, ch.ID, *u.ChannelChatID); err != nil {
		t.Errorf("second approval must be a no-op: %v", err)
	}

	out, err = h.engine.Confirm(ctx, ch.ID, "")
	if err != nil || out.State != handshake.StateTokenIssued {
		t.Fatalf("poll after approval = %+v, %v; want token", out, err)
	}
	out, err = h.engine.Confirm(ctx, ch.ID, "")
	if err != nil || out.State != handshake.StateApproved {
		t.Fatalf("poll after consume = %+v, %v; want approved", out, err)
	}
}

func TestConfirm_ExpiredChallenge(t *testing.T) {
	h := newHarness(t)
	h.db.AddUser(t, "a@x.com")
	ch := h.begin(t, "a@x.com")
	code := h.sender.code(ch.ID)

	h.now = h.now.Add(handshake.DefaultChallengeTTL + time.Second)

	for _, c := range []string{code, wrongCode(code), ""} {
		_, err := h.engine.Confirm(context.Background(), ch.ID, c)
		if !apperr.HasCode(err, apperr.CodeExpiredChallenge) {
			t.Errorf("code %q after expiry: err = %v, want expired", c, err)
		}
	}
}

func TestConfirm_UnknownChallengeLooksExpired(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"not-an-id", "0123456789abcdef01234567"} {
		_, err := h.engine.Confirm(context.Background(), id, "1234")
		if apperr.KindOf(err) != apperr.KindAuthentication {
			t.Errorf("id %q: err = %v, want authentication", id, err)
		}
	}
}

func TestConfirm_TooManyWrongCodesRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.AddUser(t, "a@x.com")
	ch := h.begin(t, "a@x.com")
	code := h.sender.code(ch.ID)
	bad := wrongCode(code)

	for i := 1; i < handshake.DefaultMaxAttempts; i++ {
		if _, err := h.engine.Confirm(ctx, ch.ID, bad); !apperr.HasCode(err, apperr.CodeInvalidCode) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if _, err := h.engine.Confirm(ctx, ch.ID, bad); !apperr.HasCode(err, apperr.CodeChallengeRejected) {
		t.Fatalf("last attempt: err = %v, want rejected", err)
	}
	if _, err := h.engine.Confirm(ctx, ch.ID, code); !apperr.HasCode(err, apperr.CodeChallengeRejected) {
		t.Errorf("correct code after rejection: err = %v", err)
	}
}

func TestExternalDecisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.db.AddUser(t, "a@x.com")
	chat := *u.ChannelChatID

	t.Run("reject after approve conflicts", func(t *testing.T) {
		ch := h.begin(t, "a@x.com")
		if err := h.engine.ApproveExternal(ctx, ch.ID, chat); err != nil {
			t.Fatal(err)
		}
		if err := h.engine.RejectExternal(ctx, ch.ID, chat); apperr.KindOf(err) != apperr.KindStateConflict {
			t.Errorf("err = %v, want state conflict", err)
		}
	})

	t.Run("approve after reject conflicts", func(t *testing.T) {
		ch := h.begin(t, "a@x.com")
		if err := h.engine.RejectExternal(ctx, ch.ID, chat); err != nil {
			t.Fatal(err)
		}
		if err := h.engine.ApproveExternal(ctx, ch.ID, chat); apperr.KindOf(err) != apperr.KindStateConflict {
			t.Errorf("err = %v, want state conflict", err)
		}
		if _, err := h.engine.Confirm(ctx, ch.ID, h.sender.code(ch.ID)); !apperr.HasCode(err, apperr.CodeChallengeRejected) {
			t.Errorf("confirm rejected: err = %v", err)
		}
	})

	t.Run("other chat is forbidden", func(t *testing.T) {
		ch := h.begin(t, "a@x.com")
		if err := h.engine.ApproveExternal(ctx, ch.ID, chat+1000); apperr.KindOf(err) != apperr.KindAuthorization {
			t.Errorf("err = %v, want authorization", err)
		}
	})
}

func TestBegin_Prerequisites(t *testing.T) {
	h := newHarness(t)
	h.db.AddUser(t, "unconfirmed@x.com", testutil.Unconfirmed())
	h.db.AddUser(t, "unlinked@x.com", testutil.Unlinked())
	h.db.AddUser(t, "ok@x.com")

	tests := []struct {
		email, password, code string
	}{
		{"unconfirmed@x.com", testutil.DefaultPassword, apperr.CodeEmailNotConfirmed},
		{"unlinked@x.com", testutil.DefaultPassword, apperr.CodeChannelNotLinked},
		{"ok@x.com", "Wrong1", apperr.CodeInvalidCredentials},
		{"ghost@x.com", testutil.DefaultPassword, apperr.CodeInvalidCredentials},
	}
	for _, tt := range tests {
		_, err := h.engine.Begin(context.Background(), tt.email, tt.password)
		if !apperr.HasCode(err, tt.code) {
			t.Errorf("%s: err = %v, want %s", tt.email, err, tt.code)
		}
	}
}

func TestResendCode_AfterFailedDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.AddUser(t, "a@x.com")

	h.sender.err = errors.New("telegram unreachable")
	ch := h.begin(t, "a@x.com")
	if ch.Delivered {
		t.Fatal("Delivered = true on a failed send")
	}

	h.sender.err = nil
	again, err := h.engine.ResendCode(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if again.ID != ch.ID || !again.Delivered || !again.ExpiresAt.Equal(ch.ExpiresAt) {
		t.Errorf("resend = %+v, original = %+v", again, ch)
	}
	out, err := h.engine.Confirm(ctx, ch.ID, h.sender.code(ch.ID))
	if err != nil || out.State != handshake.StateTokenIssued {
		t.Fatalf("confirm resent code = %+v, %v", out, err)
	}
	if _, err := h.engine.ResendCode(ctx, ch.ID); apperr.KindOf(err) != apperr.KindStateConflict {
		t.Errorf("resend on approved challenge: err = %v", err)
	}
}

func TestConfirm_ConcurrentCorrectCodesIssueOneToken(t *testing.T) {
	h := newHarness(t)
	h.db.AddUser(t, "a@x.com")
	ch := h.begin(t, "a@x.com")
	code := h.sender.code(ch.ID)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan handshake.Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.engine.Confirm(context.Background(), ch.ID, code)
			if err != nil {
				t.Errorf("Confirm: %v", err)
				return
			}
			results <- out
		}()
	}
	wg.Wait()
	close(results)

	tokens := 0
	for out := range results {
		if out.Token != "" {
			tokens++
		}
	}
	if tokens != 1 {
		t.Errorf("tokens issued = %d, want 1", tokens)
	}
}

func TestLinkChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.db.AddUser(t, "a@x.com", testutil.Unlinked())
	if _, err := h.db.Users.MarkSecondFactorUsed(ctx, u.ID); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.LinkChannel(ctx, "ghost@x.com", 1); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown email: err = %v", err)
	}
	if err := h.engine.LinkChannel(ctx, " A@X.com", 42); err != nil {
		t.Fatalf("LinkChannel: %v", err)
	}
	got, _ := h.db.Users.GetByID(ctx, u.ID)
	if got.ChannelChatID == nil || *got.ChannelChatID != 42 {
		t.Errorf("chat = %v, want 42", got.ChannelChatID)
	}
	if got.UsedSecondFactorBefore {
		t.Error("linking a new chat must reset the second-factor flag")
	}
	if err := h.engine.LinkChannel(ctx, "a@x.com", 42); err != nil {
		t.Errorf("relink same chat: %v", err)
	}
}
