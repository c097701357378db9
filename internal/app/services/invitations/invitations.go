// internal/app/services/invitations/invitations.go
// Package invitations is the membership invitation ledger.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"

	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	invitationstore "github.com/dalemusser/unchainme/internal/app/store/invitations"
	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/inputval"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Invitations is the subset of the invitations store the ledger needs.
type Invitations interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Invitation, error)
	ListPendingForEmail(ctx context.Context, email string) ([]models.Invitation, error)
	ListPendingForCompany(ctx context.Context, companyID primitive.ObjectID) ([]models.Invitation, error)
	MarkAccepted(ctx context.Context, id primitive.ObjectID, at time.Time) (models.Invitation, error)
	DeletePending(ctx context.Context, companyID, id primitive.ObjectID) error
}

// Memberships is the subset of the memberships store the ledger needs.
type Memberships interface {
	Insert(ctx context.Context, m *models.Membership) error
	FindMembership(ctx context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error)
	UserIDsWithRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) ([]primitive.ObjectID, error)
}

// Companies resolves company names.
type Companies interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Company, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Company, error)
}

// Users loads the accepting user's current email.
type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
}

// TxRunner runs fn in a transaction where the deployment supports one.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of a Ledger. Audit may be nil.
type Deps struct {
	Invitations Invitations
	Memberships Memberships
	Companies   Companies
	Users       Users
	Policy      *authz.Policy
	Tx          TxRunner
	Events      notify.Emitter
	Audit       *auditlog.Logger
	Log         *zap.Logger
}

// Ledger implements invitation operations.
type Ledger struct {
	Deps
	now func() time.Time
}

// New constructs a Ledger.
func New(d Deps) *Ledger {
	if d.Events == nil {
		d.Events = notify.Discard{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Ledger{Deps: d, now: time.Now}
}

// View is a pending invitation shown to its addressee.
type View struct {
	models.Invitation
	CompanyName string `json:"company_name"`
}

// Invite records an invitation of email into the company with role.
// Inviting the same address twice creates two invitations.
func (l *Ledger) Invite(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID, email, role string) (models.Invitation, error) {
	if _, err := l.company(ctx, companyID); err != nil {
		return models.Invitation{}, err
	}
	if _, err := l.Policy.Authorize(ctx, p.ID, companyID, authz.InviteUser); err != nil {
		return models.Invitation{}, err
	}
	r, ok := models.ParseRole(role)
	if !ok {
		return models.Invitation{}, apperr.Validation("role", "Роль не найдена!")
	}
	email = normalize.Email(email)
	if !inputval.IsValidEmail(email) {
		return models.Invitation{}, apperr.Validation("email", "Некорректный email.")
	}

	inv := models.Invitation{
		ID:        primitive.NewObjectID(),
		CompanyID: companyID,
		Email:     email,
		Role:      r,
		RoleLabel: r.Label(),
		InvitedBy: p.ID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.Invitations.Create(ctx, &inv); err != nil {
		return models.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	l.Audit.InvitationCreated(ctx, p.ID, companyID, inv.ID.Hex(), email, string(r))
	return inv, nil
}

// ListForUser returns the pending invitations addressed to the caller.
func (l *Ledger) ListForUser(ctx context.Context, p *auth.Principal) ([]View, error) {
	u, err := l.Users.GetByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	invs, err := l.Invitations.ListPendingForEmail(ctx, u.Email)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(invs))
	for _, inv := range invs {
		ids = append(ids, inv.CompanyID)
	}
	names := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) > 0 {
		cs, err := l.Companies.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load companies: %w", err)
		}
		for _, c := range cs {
			names[c.ID] = c.Name
		}
	}
	out := make([]View, 0, len(invs))
	for _, inv := range invs {
		out = append(out, View{Invitation: inv, CompanyName: names[inv.CompanyID]})
	}
	return out, nil
}

// ListForCompany returns the company's pending invitations.
func (l *Ledger) ListForCompany(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID) ([]models.Invitation, error) {
	if _, err := l.company(ctx, companyID); err != nil {
		return nil, err
	}
	if _, err := l.Policy.Authorize(ctx, p.ID, companyID, authz.ListInvitations); err != nil {
		return nil, err
	}
	invs, err := l.Invitations.ListPendingForCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	if invs == nil {
		invs = []models.Invitation{}
	}
	return invs, nil
}

// Accept turns an invitation addressed to the caller into an accepted
// membership. The flag flip and the membership insert commit together.
func (l *Ledger) Accept(ctx context.Context, p *auth.Principal, invitationID primitive.ObjectID) (models.Membership, error) {
	inv, err := l.Invitations.GetByID(ctx, invitationID)
	if errors.Is(err, invitationstore.ErrNotFound) {
		return models.Membership{}, errInvitationNotFound()
	}
	if err != nil {
		return models.Membership{}, fmt.Errorf("load invitation: %w", err)
	}
	if inv.Accepted {
		return models.Membership{}, alreadyAccepted()
	}
	u, err := l.Users.GetByID(ctx, p.ID)
	if errors.Is(err, userstore.ErrNotFound) {
		return models.Membership{}, apperr.NotFound("Пользователь не найден.")
	}
	if err != nil {
		return models.Membership{}, fmt.Errorf("load user: %w", err)
	}
	if u.Email != inv.Email {
		return models.Membership{}, apperr.Forbidden("Это приглашение адресовано другому пользователю.")
	}
	existing, err := l.Memberships.FindMembership(ctx, inv.CompanyID, u.ID)
	if err != nil {
		return models.Membership{}, fmt.Errorf("load membership: %w", err)
	}
	if existing != nil {
		return models.Membership{}, alreadyMember()
	}

	now := l.now().UTC()
	m := models.Membership{
		ID:         primitive.NewObjectID(),
		CompanyID:  inv.CompanyID,
		UserID:     u.ID,
		Role:       inv.Role,
		InvitedAt:  inv.CreatedAt,
		AcceptedAt: &now,
	}
	err = l.Tx.Run(ctx, func(ctx context.Context) error {
		if _, err := l.Invitations.MarkAccepted(ctx, inv.ID, now); err != nil {
			return err
		}
		return l.Memberships.Insert(ctx, &m)
	})
	switch {
	case err == nil:
	case errors.Is(err, invitationstore.ErrAlreadyAccepted):
		return models.Membership{}, alreadyAccepted()
	case errors.Is(err, invitationstore.ErrNotFound):
		return models.Membership{}, errInvitationNotFound()
	case errors.Is(err, membershipstore.ErrDuplicateMembership):
		return models.Membership{}, alreadyMember()
	default:
		return models.Membership{}, fmt.Errorf("accept invitation: %w", err)
	}

	l.Audit.InvitationAccepted(ctx, u.ID, inv.CompanyID, inv.ID.Hex())
	l.notifyAdmins(ctx, inv, u)
	return m, nil
}

func (l *Ledger) notifyAdmins(ctx context.Context, inv models.Invitation, u models.User) {
	admins, err := l.Memberships.UserIDsWithRole(ctx, inv.CompanyID, models.RoleAdmin)
	if err != nil {
		l.Log.Warn("load admins for notification", zap.String("company_id", inv.CompanyID.Hex()), zap.Error(err))
		return
	}
	ids := make([]string, 0, len(admins))
	for _, id := range admins {
		if id != u.ID {
			ids = append(ids, id.Hex())
		}
	}
	l.Events.Emit(notify.Event{
		Kind:      notify.KindInvitationAccepted,
		UserIDs:   ids,
		CompanyID: inv.CompanyID.Hex(),
		RefID:     inv.ID.Hex(),
		Title:     "Приглашение принято",
		Message:   fmt.Sprintf("%s принял(а) приглашение (%s).", u.Email, inv.RoleLabel),
	})
}

// Cancel deletes a pending invitation.
func (l *Ledger) Cancel(ctx context.Context, p *auth.Principal, companyID, invitationID primitive.ObjectID) error {
	if _, err := l.company(ctx, companyID); err != nil {
		return err
	}
	if _, err := l.Policy.Authorize(ctx, p.ID, companyID, authz.CancelInvitation); err != nil {
		return err
	}
	err := l.Invitations.DeletePending(ctx, companyID, invitationID)
	switch {
	case errors.Is(err, invitationstore.ErrNotFound):
		return errInvitationNotFound()
	case errors.Is(err, invitationstore.ErrAlreadyAccepted):
		return apperr.Conflict(apperr.CodeAlreadyAccepted, "Нельзя отменить уже принятое приглашение")
	case err != nil:
		return fmt.Errorf("cancel invitation: %w", err)
	}
	l.Audit.InvitationCanceled(ctx, p.ID, companyID, invitationID.Hex())
	return nil
}

func (l *Ledger) company(ctx context.Context, id primitive.ObjectID) (models.Company, error) {
	c, err := l.Companies.GetByID(ctx, id)
	if errors.Is(err, companystore.ErrNotFound) {
		return models.Company{}, errCompanyNotFound()
	}
	if err != nil {
		return models.Company{}, fmt.Errorf("load company: %w", err)
	}
	return c, nil
}

func errCompanyNotFound() error { return apperr.NotFound("Компания не найдена") }

func errInvitationNotFound() error { return apperr.NotFound("Приглашение не найдено") }

func alreadyAccepted() error {
	return apperr.Conflict(apperr.CodeAlreadyAccepted, "Приглашение уже принято")
}

func alreadyMember() error {
	return apperr.Conflict(apperr.CodeAlreadyMember, "Вы уже состоите в этой компании.")
}
