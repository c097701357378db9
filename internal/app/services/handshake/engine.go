// internal/app/services/handshake/engine.go
// Package handshake runs the two-factor login: a password check, then a
// one-time code delivered over the external channel, confirmed either by
// typing the code or by pressing approve in the channel, then a bearer
// token.
//
// Every challenge mutation is a compare-and-set in the store, so the code
// path and the channel path can race on the same challenge safely.
package handshake

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	challengestore "github.com/dalemusser/unchainme/internal/app/store/challenges"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultMaxAttempts  = 5
	codeDigits          = 4
)

// Credentials verifies the first factor.
type Credentials interface {
	Authenticate(ctx context.Context, email, password string) (models.User, error)
}

// Users is the subset of the users store the engine needs.
type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	LinkChannel(ctx context.Context, email string, chatID int64) (models.User, bool, error)
	MarkSecondFactorUsed(ctx context.Context, id primitive.ObjectID) (bool, error)
}

// Challenges persists login challenges with compare-and-set transitions.
type Challenges interface {
	Create(ctx context.Context, c *models.LoginChallenge) error
	Get(ctx context.Context, id primitive.ObjectID) (models.LoginChallenge, error)
	Approve(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error)
	Reject(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error)
	Consume(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error)
	RotateCode(ctx context.Context, id primitive.ObjectID, codeHash string, now time.Time) (models.LoginChallenge, bool, error)
	RecordFailedAttempt(ctx context.Context, id primitive.ObjectID, maxAttempts int, now time.Time) (models.LoginChallenge, bool, error)
}

// Memberships lists a user's accepted memberships for the token claims.
type Memberships interface {
	ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error)
}

// CodeSender delivers a code to a linked chat.
type CodeSender interface {
	SendLoginCode(ctx context.Context, chatID int64, challengeID, code string) error
}

// TokenMinter issues bearer tokens.
type TokenMinter interface {
	Mint(u models.User, memberships []models.Membership) (string, *auth.Claims, error)
}

// ErrChannelUnavailable is returned by DisabledSender.
var ErrChannelUnavailable = errors.New("external channel is not configured")

// DisabledSender is used when no bot token is configured. Challenges are
// still created but never delivered.
type DisabledSender struct{}

// SendLoginCode implements CodeSender.
func (DisabledSender) SendLoginCode(context.Context, int64, string, string) error {
	return ErrChannelUnavailable
}

// Config tunes challenge lifetime and code hashing.
type Config struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	CodeCost     int
}

// Deps are the collaborators of an Engine. Audit may be nil.
type Deps struct {
	Credentials Credentials
	Users       Users
	Challenges  Challenges
	Memberships Memberships
	Sender      CodeSender
	Tokens      TokenMinter
	Audit       *auditlog.Logger
	Log         *zap.Logger
}

// Engine drives login challenges.
type Engine struct {
	Deps
	cfg Config
	now func() time.Time
}

// New constructs an Engine.
func New(d Deps, cfg Config) *Engine {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CodeCost == 0 {
		cfg.CodeCost = bcrypt.DefaultCost
	}
	if d.Sender == nil {
		d.Sender = DisabledSender{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Engine{Deps: d, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Challenge is what the caller gets back from Begin.
type Challenge struct {
	ID        string
	UserID    primitive.ObjectID
	ExpiresAt time.Time
	Delivered bool
}

// State is the observable progress of a challenge.
type State string

const (
	StatePending     State = "pending"
	StateApproved    State = "approved"
	StateTokenIssued State = "token_issued"
)

// Outcome is the result of Confirm. Token is set only for StateTokenIssued.
type Outcome struct {
	State             State
	UserID            primitive.ObjectID
	Token             string
	ExpiresAt         time.Time
	FirstSecondFactor bool
}

func errExpired() *apperr.Error {
	return apperr.Authentication(apperr.CodeExpiredChallenge, "Запрос на вход не найден или уже просрочен.")
}

func errRejected() *apperr.Error {
	return apperr.Authentication(apperr.CodeChallengeRejected, "Вход отклонён.")
}

func errTooManyAttempts() *apperr.Error {
	return apperr.Authentication(apperr.CodeChallengeRejected, "Слишком много неверных попыток. Начните вход заново.")
}

func errInvalidCode() *apperr.Error {
	return apperr.Authentication(apperr.CodeInvalidCode, "Неверный код")
}

// Begin checks the password and the account prerequisites, stores a new
// challenge and sends its code. A delivery failure is reported through
// Delivered; the challenge stays usable and the code can be resent.
func (e *Engine) Begin(ctx context.Context, email, password string) (Challenge, error) {
	u, err := e.Credentials.Authenticate(ctx, email, password)
	if err != nil {
		return Challenge{}, err
	}
	if !u.EmailConfirmed {
		return Challenge{}, apperr.Authentication(apperr.CodeEmailNotConfirmed, "Подтвердите email перед входом.")
	}
	if !u.ChannelLinked() {
		return Challenge{}, apperr.Authentication(apperr.CodeChannelNotLinked, "Привяжите Telegram: отправьте боту свой email.")
	}

	code, hash, err := e.newCode()
	if err != nil {
		return Challenge{}, err
	}
	now := e.now().UTC()
	c := models.LoginChallenge{
		UserID:    u.ID,
		CodeHash:  hash,
		ExpiresAt: now.Add(e.cfg.ChallengeTTL),
		CreatedAt: now,
	}
	if err := e.Challenges.Create(ctx, &c); err != nil {
		return Challenge{}, fmt.Errorf("create challenge: %w", err)
	}

	out := Challenge{ID: c.ID.Hex(), UserID: u.ID, ExpiresAt: c.ExpiresAt}
	out.Delivered = e.deliver(ctx, u, c.ID, code)
	return out, nil
}

func (e *Engine) deliver(ctx context.Context, u models.User, challengeID primitive.ObjectID, code string) bool {
	if err := e.Sender.SendLoginCode(ctx, *u.ChannelChatID, challengeID.Hex(), code); err != nil {
		e.Log.Warn("login code not delivered",
			zap.String("user_id", u.ID.Hex()),
			zap.String("challenge_id", challengeID.Hex()),
			zap.Error(err))
		return false
	}
	return true
}

// Confirm advances a challenge. An empty code polls: it returns
// StatePending until the challenge is approved in the channel. Once a
// challenge is approved, exactly one Confirm receives the token; later
// calls get StateApproved without one.
func (e *Engine) Confirm(ctx context.Context, challengeID, code string) (Outcome, error) {
	c, err := e.load(ctx, challengeID)
	if err != nil {
		return Outcome{}, err
	}
	if c.Rejected {
		return Outcome{}, errRejected()
	}

	if code == "" {
		if !c.Approved {
			return Outcome{State: StatePending, UserID: c.UserID}, nil
		}
		return e.issue(ctx, c)
	}

	if !e.codeMatches(c, code) {
		if c.Approved {
			return Outcome{}, errInvalidCode()
		}
		return Outcome{}, e.wrongCode(ctx, c)
	}

	if !c.Approved {
		approved, changed, err := e.Challenges.Approve(ctx, c.ID, e.now().UTC())
		if err != nil {
			return Outcome{}, fmt.Errorf("approve challenge: %w", err)
		}
		if err := e.settled(approved); err != nil {
			return Outcome{}, err
		}
		if changed {
			e.Audit.SecondFactorApproved(ctx, c.UserID, challengeID, "code")
		}
		c = approved
	}
	return e.issue(ctx, c)
}

// settled checks a challenge returned by a compare-and-set that did not
// apply: expired and rejected challenges end the flow.
func (e *Engine) settled(c models.LoginChallenge) error {
	switch {
	case c.Expired(e.now()):
		return errExpired()
	case c.Rejected:
		return errRejected()
	}
	return nil
}

func (e *Engine) wrongCode(ctx context.Context, c models.LoginChallenge) error {
	after, changed, err := e.Challenges.RecordFailedAttempt(ctx, c.ID, e.cfg.MaxAttempts, e.now().UTC())
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if !changed {
		if err := e.settled(after); err != nil {
			return err
		}
		return errInvalidCode()
	}
	if after.Rejected {
		e.Audit.SecondFactorRejected(ctx, c.UserID, c.ID.Hex(), "too many invalid codes")
		return errTooManyAttempts()
	}
	e.Audit.CodeInvalid(ctx, c.UserID, c.ID.Hex(), after.Attempts)
	return errInvalidCode()
}

// issue mints a token for an approved challenge and hands it out only if
// this caller is the one that consumes the challenge.
func (e *Engine) issue(ctx context.Context, c models.LoginChallenge) (Outcome, error) {
	if c.Consumed {
		return Outcome{State: StateApproved, UserID: c.UserID}, nil
	}
	u, err := e.Users.GetByID(ctx, c.UserID)
	if errors.Is(err, userstore.ErrNotFound) {
		return Outcome{}, errExpired()
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load user: %w", err)
	}
	ms, err := e.Memberships.ListForUser(ctx, u.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load memberships: %w", err)
	}
	token, claims, err := e.Tokens.Mint(u, ms)
	if err != nil {
		return Outcome{}, err
	}

	consumed, changed, err := e.Challenges.Consume(ctx, c.ID, e.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("consume challenge: %w", err)
	}
	if !changed {
		if consumed.Consumed {
			return Outcome{State: StateApproved, UserID: c.UserID}, nil
		}
		if err := e.settled(consumed); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, errExpired()
	}

	first, err := e.Users.MarkSecondFactorUsed(ctx, u.ID)
	if err != nil {
		e.Log.Warn("mark second factor used", zap.String("user_id", u.ID.Hex()), zap.Error(err))
	}
	e.Audit.TokenIssued(ctx, u.ID, claims.ID)
	return Outcome{
		State:             StateTokenIssued,
		UserID:            u.ID,
		Token:             token,
		ExpiresAt:         claims.ExpiresAt.Time,
		FirstSecondFactor: first,
	}, nil
}

// ResendCode replaces the code of an undecided challenge, resets its
// attempt counter and delivers the new code. The expiry does not move.
func (e *Engine) ResendCode(ctx context.Context, challengeID string) (Challenge, error) {
	c, err := e.load(ctx, challengeID)
	if err != nil {
		return Challenge{}, err
	}
	if c.Rejected {
		return Challenge{}, errRejected()
	}
	if c.Approved {
		return Challenge{}, apperr.Conflict(apperr.CodeConflict, "Вход уже подтверждён.")
	}
	u, err := e.Users.GetByID(ctx, c.UserID)
	if err != nil {
		return Challenge{}, fmt.Errorf("load user: %w", err)
	}
	if !u.ChannelLinked() {
		return Challenge{}, apperr.Authentication(apperr.CodeChannelNotLinked, "Привяжите Telegram: отправьте боту свой email.")
	}

	code, hash, err := e.newCode()
	if err != nil {
		return Challenge{}, err
	}
	rotated, changed, err := e.Challenges.RotateCode(ctx, c.ID, hash, e.now().UTC())
	if err != nil {
		return Challenge{}, fmt.Errorf("rotate code: %w", err)
	}
	if !changed {
		if err := e.settled(rotated); err != nil {
			return Challenge{}, err
		}
		return Challenge{}, apperr.Conflict(apperr.CodeConflict, "Вход уже подтверждён.")
	}
	out := Challenge{ID: c.ID.Hex(), UserID: u.ID, ExpiresAt: rotated.ExpiresAt}
	out.Delivered = e.deliver(ctx, u, c.ID, code)
	return out, nil
}

// ApproveExternal approves a challenge from the chat it was delivered to.
// Approving twice is a no-op.
func (e *Engine) ApproveExternal(ctx context.Context, challengeID string, chatID int64) error {
	c, err := e.loadForChat(ctx, challengeID, chatID)
	if err != nil {
		return err
	}
	after, changed, err := e.Challenges.Approve(ctx, c.ID, e.now().UTC())
	if err != nil {
		return fmt.Errorf("approve challenge: %w", err)
	}
	if !changed {
		if after.Expired(e.now()) {
			return errExpired()
		}
		if after.Rejected {
			return apperr.Conflict(apperr.CodeChallengeRejected, "Запрос на вход уже отклонён.")
		}
		return nil
	}
	e.Audit.SecondFactorApproved(ctx, c.UserID, challengeID, "channel")
	return nil
}

// RejectExternal rejects a challenge from the chat it was delivered to.
// An approved challenge cannot be rejected.
func (e *Engine) RejectExternal(ctx context.Context, challengeID string, chatID int64) error {
	c, err := e.loadForChat(ctx, challengeID, chatID)
	if err != nil {
		return err
	}
	after, changed, err := e.Challenges.Reject(ctx, c.ID, e.now().UTC())
	if err != nil {
		return fmt.Errorf("reject challenge: %w", err)
	}
	if !changed {
		if after.Expired(e.now()) {
			return errExpired()
		}
		if after.Approved {
			return apperr.Conflict(apperr.CodeConflict, "Вход уже подтверждён.")
		}
		return nil
	}
	e.Audit.SecondFactorRejected(ctx, c.UserID, challengeID, "rejected in channel")
	return nil
}

// LinkChannel binds chatID to the account registered under email.
func (e *Engine) LinkChannel(ctx context.Context, email string, chatID int64) error {
	u, changed, err := e.Users.LinkChannel(ctx, normalize.Email(email), chatID)
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.NotFound("Пользователь с указанным email не найден.")
	}
	if err != nil {
		return fmt.Errorf("link channel: %w", err)
	}
	if changed {
		e.Audit.ChannelLinked(ctx, u.ID)
	}
	return nil
}

// load fetches a live challenge. Unknown ids and expired challenges look
// the same to the caller.
func (e *Engine) load(ctx context.Context, challengeID string) (models.LoginChallenge, error) {
	id, err := primitive.ObjectIDFromHex(challengeID)
	if err != nil {
		return models.LoginChallenge{}, errExpired()
	}
	c, err := e.Challenges.Get(ctx, id)
	if errors.Is(err, challengestore.ErrNotFound) {
		return models.LoginChallenge{}, errExpired()
	}
	if err != nil {
		return models.LoginChallenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if c.Expired(e.now()) {
		return models.LoginChallenge{}, errExpired()
	}
	return c, nil
}

func (e *Engine) loadForChat(ctx context.Context, challengeID string, chatID int64) (models.LoginChallenge, error) {
	c, err := e.load(ctx, challengeID)
	if err != nil {
		return models.LoginChallenge{}, err
	}
	u, err := e.Users.GetByID(ctx, c.UserID)
	if errors.Is(err, userstore.ErrNotFound) {
		return models.LoginChallenge{}, errExpired()
	}
	if err != nil {
		return models.LoginChallenge{}, fmt.Errorf("load user: %w", err)
	}
	if u.ChannelChatID == nil || *u.ChannelChatID != chatID {
		return models.LoginChallenge{}, apperr.Forbidden("Этот запрос на вход относится к другому аккаунту.")
	}
	return c, nil
}

func (e *Engine) newCode() (code, hash string, err error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", "", fmt.Errorf("generate code: %w", err)
	}
	code = fmt.Sprintf("%0*d", codeDigits, n.Int64())
	h, err := bcrypt.GenerateFromPassword([]byte(code), e.cfg.CodeCost)
	if err != nil {
		return "", "", fmt.Errorf("hash code: %w", err)
	}
	return code, string(h), nil
}

func (e *Engine) codeMatches(c models.LoginChallenge, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) == nil
}
