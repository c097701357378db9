// internal/app/services/accounts/accounts.go
// Package accounts is the credential store: registration, password checks,
// email confirmation and account deletion.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dalemusser/unchainme/internal/app/store/emailconfirm"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/inputval"
	"github.com/dalemusser/unchainme/internal/app/system/mailer"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Users is the subset of the users store the service needs.
type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	ConfirmEmail(ctx context.Context, id primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Confirmations stores pending email confirmation tokens.
type Confirmations interface {
	Create(ctx context.Context, userID primitive.ObjectID, email string, isResend bool) (string, error)
	Verify(ctx context.Context, userID primitive.ObjectID, token string) (*emailconfirm.Confirmation, error)
	DeleteByUser(ctx context.Context, userID primitive.ObjectID) error
}

// Owners counts companies owned by a user.
type Owners interface {
	CountByOwner(ctx context.Context, ownerID primitive.ObjectID) (int64, error)
}

// Memberships removes every membership of a user.
type Memberships interface {
	DeleteForUser(ctx context.Context, userID primitive.ObjectID) (int64, error)
}

// Mailer delivers email.
type Mailer interface {
	Send(e mailer.Email) error
}

// TxRunner runs fn in a transaction where the deployment supports one.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds the settings that shape confirmation emails and hashing.
type Config struct {
	BaseURL       string
	SiteName      string
	ConfirmExpiry time.Duration
	BcryptCost    int
}

// Deps are the collaborators of a Service. Audit may be nil.
type Deps struct {
	Users         Users
	Confirmations Confirmations
	Owners        Owners
	Memberships   Memberships
	Mailer        Mailer
	Tx            TxRunner
	Audit         *auditlog.Logger
	Log           *zap.Logger
}

// Service implements account operations.
type Service struct {
	Deps
	cfg       Config
	dummyHash []byte
}

// New constructs a Service.
func New(d Deps, cfg Config) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "unchainme"
	}
	if cfg.ConfirmExpiry <= 0 {
		cfg.ConfirmExpiry = emailconfirm.DefaultExpiry
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	// Compared against when the email is unknown so both failure paths cost
	// one bcrypt comparison.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("unchainme-dummy-password"), cfg.BcryptCost)
	return &Service{Deps: d, cfg: cfg, dummyHash: dummy}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Surname  string
}

// Register creates an unconfirmed user and mails the confirmation link.
// A mail failure is logged; the account still exists and the user can ask
// for a resend.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	email := normalize.Email(in.Email)
	if err := ValidateEmail(email); err != nil {
		return models.User{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return models.User{}, err
	}
	name := normalize.Name(in.Name)
	if name == "" {
		return models.User{}, apperr.Validation("name", "Укажите имя.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		Email:        email,
		Name:         name,
		Surname:      normalize.Name(in.Surname),
		PasswordHash: string(hash),
	}
	if err := s.Users.Create(ctx, &u); err != nil {
		if errors.Is(err, userstore.ErrDuplicateEmail) {
			return models.User{}, apperr.Validation("email", fmt.Sprintf("Пользователь с %s уже существует.", email))
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}

	s.sendConfirmation(ctx, u, false)
	return u, nil
}

// Authenticate checks email and password. Unknown email and wrong password
// produce the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	invalid := apperr.Authentication(apperr.CodeInvalidCredentials, "Неверный email или пароль.")
	u, err := s.Users.GetByEmail(ctx, normalize.Email(email))
	if errors.Is(err, userstore.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return models.User{}, invalid
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return models.User{}, invalid
	}
	return u, nil
}

// ConfirmEmail marks the user's email confirmed when token matches.
// Confirming an already confirmed address succeeds.
func (s *Service) ConfirmEmail(ctx context.Context, userIDHex, token string) error {
	if userIDHex == "" || token == "" {
		return apperr.Validation("token", "Некорректные параметры.")
	}
	id, err := primitive.ObjectIDFromHex(userIDHex)
	if err != nil {
		return apperr.NotFound("Пользователь не найден.")
	}
	u, err := s.Users.GetByID(ctx, id)
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.NotFound("Пользователь не найден.")
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.EmailConfirmed {
		return nil
	}
	if _, err := s.Confirmations.Verify(ctx, id, token); err != nil {
		if errors.Is(err, emailconfirm.ErrNotFound) || errors.Is(err, emailconfirm.ErrInvalidToken) {
			return apperr.Validation("token", "Не удалось подтвердить Email: ссылка недействительна или устарела.").Wrap(err)
		}
		return fmt.Errorf("verify confirmation: %w", err)
	}
	if err := s.Users.ConfirmEmail(ctx, id); err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	s.Audit.EmailConfirmed(ctx, id)
	return nil
}

// ResendConfirmation mails a fresh link to an unconfirmed address. Unknown
// and already confirmed addresses are silently ignored so the endpoint
// does not reveal which emails are registered.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	u, err := s.Users.GetByEmail(ctx, normalize.Email(email))
	if errors.Is(err, userstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.EmailConfirmed {
		return nil
	}
	s.sendConfirmation(ctx, u, true)
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, u models.User, isResend bool) {
	token, err := s.Confirmations.Create(ctx, u.ID, u.Email, isResend)
	if errors.Is(err, emailconfirm.ErrTooManyResends) {
		s.Log.Info("confirmation resend limit reached", zap.String("user_id", u.ID.Hex()))
		return
	}
	if err != nil {
		s.Log.Error("create email confirmation", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return
	}
	msg := mailer.BuildConfirmationEmail(mailer.ConfirmationEmailData{
		SiteName:  s.cfg.SiteName,
		Name:      u.FullName(),
		Link:      s.confirmLink(u.ID, token),
		ExpiresIn: humanDuration(s.cfg.ConfirmExpiry),
	})
	msg.To = u.Email
	if err := s.Mailer.Send(msg); err != nil {
		s.Log.Warn("send confirmation email", zap.String("user_id", u.ID.Hex()), zap.Error(err))
	}
}

func (s *Service) confirmLink(userID primitive.ObjectID, token string) string {
	q := url.Values{}
	q.Set("userId", userID.Hex())
	q.Set("token", token)
	return s.cfg.BaseURL + "/auth/confirm-email?" + q.Encode()
}

// Profile returns the caller's account.
func (s *Service) Profile(ctx context.Context, p *auth.Principal) (models.User, error) {
	u, err := s.Users.GetByID(ctx, p.ID)
	if errors.Is(err, userstore.ErrNotFound) {
		return models.User{}, apperr.NotFound("Пользователь не найден.")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// DeleteAccount removes the caller together with their memberships and
// pending confirmations. Owners must delete their companies first.
func (s *Service) DeleteAccount(ctx context.Context, p *auth.Principal) error {
	owned, err := s.Owners.CountByOwner(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("count owned companies: %w", err)
	}
	if owned > 0 {
		return apperr.Conflict(apperr.CodeConflict, "Сначала удалите компании, владельцем которых вы являетесь.")
	}
	err = s.Tx.Run(ctx, func(ctx context.Context) error {
		if _, err := s.Memberships.DeleteForUser(ctx, p.ID); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := s.Confirmations.DeleteByUser(ctx, p.ID); err != nil {
			return fmt.Errorf("delete confirmations: %w", err)
		}
		if err := s.Users.Delete(ctx, p.ID); err != nil {
			if errors.Is(err, userstore.ErrNotFound) {
				return apperr.NotFound("Пользователь не найден.")
			}
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Audit.UserDeleted(ctx, p.ID)
	return nil
}

// ValidateEmail checks the shape of a normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return apperr.Validation("email", "Укажите email.")
	}
	if !inputval.IsValidEmail(email) {
		return apperr.Validation("email", "Некорректный email.")
	}
	return nil
}

// ValidatePassword enforces the password policy.
func ValidatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return apperr.Validation("password", fmt.Sprintf("Пароль должен содержать не менее %d символов.", MinPasswordLength))
	}
	var digit, lower, upper bool
	for _, r := range pw {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		}
	}
	switch {
	case !digit:
		return apperr.Validation("password", "Пароль должен содержать хотя бы одну цифру.")
	case !lower:
		return apperr.Validation("password", "Пароль должен содержать хотя бы одну строчную букву.")
	case !upper:
		return apperr.Validation("password", "Пароль должен содержать хотя бы одну заглавную букву.")
	}
	return nil
}

func humanDuration(d time.Duration) string {
	if h := int(d.Hours()); h >= 1 && d%time.Hour == 0 {
		return fmt.Sprintf("%d ч.", h)
	}
	return fmt.Sprintf("%d мин.", int(d.Minutes()))
}
