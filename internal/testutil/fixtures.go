package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/mailer"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword satisfies the password policy. Fixture users are created
// with it.
const DefaultPassword = "Secret1"

// MemDB bundles one of every in-memory store.
type MemDB struct {
	Users         *MemUsers
	Companies     *MemCompanies
	Memberships   *MemMemberships
	Invitations   *MemInvitations
	Challenges    *MemChallenges
	Tasks         *MemTasks
	Applications  *MemApplications
	Confirmations *MemConfirmations
}

// NewMemDB returns empty stores.
func NewMemDB() *MemDB {
	return &MemDB{
		Users:         NewMemUsers(),
		Companies:     NewMemCompanies(),
		Memberships:   NewMemMemberships(),
		Invitations:   NewMemInvitations(),
		Challenges:    NewMemChallenges(),
		Tasks:         NewMemTasks(),
		Applications:  NewMemApplications(),
		Confirmations: NewMemConfirmations(),
	}
}

var (
	hashOnce    sync.Once
	defaultHash string
	nextChatID  atomic.Int64
)

// passwordHash caches the bcrypt of DefaultPassword at minimum cost.
func passwordHash() string {
	hashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		defaultHash = string(h)
	})
	return defaultHash
}

// UserOption tweaks a fixture user before it is stored.
type UserOption func(*models.User)

// Unconfirmed leaves the email unconfirmed.
func Unconfirmed() UserOption {
	return func(u *models.User) { u.EmailConfirmed = false }
}

// Unlinked leaves the user without an external channel.
func Unlinked() UserOption {
	return func(u *models.User) { u.ChannelChatID = nil }
}

// WithChat binds the user to chatID.
func WithChat(chatID int64) UserOption {
	return func(u *models.User) { u.ChannelChatID = &chatID }
}

// AddUser stores a confirmed, channel-linked user with DefaultPassword.
func (db *MemDB) AddUser(t testing.TB, email string, opts ...UserOption) models.User {
	t.Helper()
	chat := nextChatID.Add(1)
	u := models.User{
		Email:          email,
		Name:           "Test",
		Surname:        "User",
		PasswordHash:   passwordHash(),
		EmailConfirmed: true,
		ChannelChatID:  &chat,
	}
	for _, o := range opts {
		o(&u)
	}
	if err := db.Users.Create(context.Background(), &u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// AddCompany stores a company owned by owner together with the owner's
// Admin membership.
func (db *MemDB) AddCompany(t testing.TB, owner models.User, name string) models.Company {
	t.Helper()
	c := models.Company{Name: name, OwnerID: owner.ID, CreatedAt: time.Now().UTC()}
	if err := db.Companies.Create(context.Background(), &c); err != nil {
		t.Fatalf("create company %s: %v", name, err)
	}
	db.AddMember(t, c.ID, owner, models.RoleAdmin)
	return c
}

// AddMember stores an accepted membership.
func (db *MemDB) AddMember(t testing.TB, companyID primitive.ObjectID, u models.User, role models.Role) models.Membership {
	t.Helper()
	now := time.Now().UTC()
	m := models.Membership{CompanyID: companyID, UserID: u.ID, Role: role, InvitedAt: now, AcceptedAt: &now}
	if err := db.Memberships.Insert(context.Background(), &m); err != nil {
		t.Fatalf("add member %s: %v", u.Email, err)
	}
	return m
}

// Principal returns the caller identity of u.
func Principal(u models.User) *auth.Principal {
	return &auth.Principal{ID: u.ID, Email: u.Email}
}

// NoTx runs the function directly.
type NoTx struct{}

// Run implements the services' transaction runner.
func (NoTx) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Events records emitted notifications.
type Events struct {
	mu     sync.Mutex
	events []notify.Event
}

// Emit implements notify.Emitter.
func (e *Events) Emit(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// All returns a copy of everything emitted so far.
func (e *Events) All() []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]notify.Event, len(e.events))
	copy(out, e.events)
	return out
}

// OfKind returns the emitted events of kind k.
func (e *Events) OfKind(k notify.Kind) []notify.Event {
	var out []notify.Event
	for _, ev := range e.All() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// Outbox records sent email instead of delivering it.
type Outbox struct {
	mu   sync.Mutex
	Sent []mailer.Email
	Err  error
}

// Send implements the services' mailer.
func (o *Outbox) Send(e mailer.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Sent = append(o.Sent, e)
	return nil
}

// Last returns the most recent email, or false if none was sent.
func (o *Outbox) Last() (mailer.Email, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Sent) == 0 {
		return mailer.Email{}, false
	}
	return o.Sent[len(o.Sent)-1], true
}
