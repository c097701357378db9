// internal/app/services/companies/companies.go
// Package companies creates, lists and deletes companies and manages their
// member lists.
package companies

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/normalize"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Companies is the subset of the companies store the service needs.
type Companies interface {
	Create(ctx context.Context, c *models.Company) error
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Company, error)
	ExistsForOwner(ctx context.Context, ownerID primitive.ObjectID, name string) (bool, error)
	CountByOwner(ctx context.Context, ownerID primitive.ObjectID) (int64, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Company, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Memberships is the subset of the memberships store the service needs.
type Memberships interface {
	Insert(ctx context.Context, m *models.Membership) error
	FindMembership(ctx context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error)
	ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error)
	ListForCompany(ctx context.Context, companyID primitive.ObjectID) ([]models.Membership, error)
	CountRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) (int64, error)
	Delete(ctx context.Context, companyID, userID primitive.ObjectID) error
}

// Users resolves member profiles.
type Users interface {
	GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error)
}

// CompanyScoped is any store holding rows that die with their company.
type CompanyScoped interface {
	DeleteForCompany(ctx context.Context, companyID primitive.ObjectID) (int64, error)
}

// TxRunner runs fn in a transaction where the deployment supports one.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of a Service. Cascade lists every store
// cleared when a company is deleted, memberships included. Audit may be nil.
type Deps struct {
	Companies   Companies
	Memberships Memberships
	Users       Users
	Cascade     []CompanyScoped
	Policy      *authz.Policy
	Tx          TxRunner
	Events      notify.Emitter
	Audit       *auditlog.Logger
	Log         *zap.Logger
}

// Service implements company operations.
type Service struct {
	Deps
	now func() time.Time
}

// New constructs a Service.
func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = notify.Discard{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{Deps: d, now: time.Now}
}

// View is a company as seen by one of its members.
type View struct {
	models.Company
	Role      models.Role `json:"role"`
	RoleLabel string      `json:"role_label"`
	IsOwner   bool        `json:"is_owner"`
}

// Member is one accepted member of a company.
type Member struct {
	UserID     primitive.ObjectID `json:"user_id"`
	Email      string             `json:"email"`
	Name       string             `json:"name"`
	Surname    string             `json:"surname"`
	Role       models.Role        `json:"role"`
	RoleLabel  string             `json:"role_label"`
	IsOwner    bool               `json:"is_owner"`
	AcceptedAt *time.Time         `json:"accepted_at,omitempty"`
}

// Create makes a company owned by the caller, who becomes its first Admin.
func (s *Service) Create(ctx context.Context, p *auth.Principal, name string) (models.Company, error) {
	name = normalize.Text(name)
	if name == "" {
		return models.Company{}, apperr.Validation("name", "Название компании не может быть пустым")
	}
	if utf8.RuneCountInString(name) > models.MaxCompanyNameLength {
		return models.Company{}, apperr.Validation("name",
			fmt.Sprintf("Название компании слишком длинное (максимум %d символов)", models.MaxCompanyNameLength))
	}
	owned, err := s.Companies.CountByOwner(ctx, p.ID)
	if err != nil {
		return models.Company{}, fmt.Errorf("count companies: %w", err)
	}
	if owned >= models.MaxCompaniesPerOwner {
		return models.Company{}, apperr.Validation("name",
			fmt.Sprintf("Вы не можете создать больше %d компаний", models.MaxCompaniesPerOwner))
	}
	dupName := apperr.Validation("name", "У вас уже есть компания с таким названием")
	exists, err := s.Companies.ExistsForOwner(ctx, p.ID, name)
	if err != nil {
		return models.Company{}, fmt.Errorf("check company name: %w", err)
	}
	if exists {
		return models.Company{}, dupName
	}

	now := s.now().UTC()
	c := models.Company{ID: primitive.NewObjectID(), Name: name, OwnerID: p.ID, CreatedAt: now}
	err = s.Tx.Run(ctx, func(ctx context.Context) error {
		if err := s.Companies.Create(ctx, &c); err != nil {
			return err
		}
		return s.Memberships.Insert(ctx, &models.Membership{
			ID:         primitive.NewObjectID(),
			CompanyID:  c.ID,
			UserID:     p.ID,
			Role:       models.RoleAdmin,
			InvitedAt:  now,
			AcceptedAt: &now,
		})
	})
	if errors.Is(err, companystore.ErrDuplicateName) {
		return models.Company{}, dupName
	}
	if err != nil {
		return models.Company{}, fmt.Errorf("create company: %w", err)
	}
	s.Audit.CompanyCreated(ctx, p.ID, c.ID, c.Name)
	return c, nil
}

// List returns every company the caller has accepted membership in, with
// the caller's role.
func (s *Service) List(ctx context.Context, p *auth.Principal) ([]View, error) {
	ms, err := s.Memberships.ListForUser(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	roles := make(map[primitive.ObjectID]models.Role, len(ms))
	ids := make([]primitive.ObjectID, 0, len(ms))
	for _, m := range ms {
		roles[m.CompanyID] = m.Role
		ids = append(ids, m.CompanyID)
	}
	if len(ids) == 0 {
		return []View{}, nil
	}
	cs, err := s.Companies.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load companies: %w", err)
	}
	out := make([]View, 0, len(cs))
	for _, c := range cs {
		r := roles[c.ID]
		out = append(out, View{Company: c, Role: r, RoleLabel: r.Label(), IsOwner: c.OwnerID == p.ID})
	}
	return out, nil
}

// Members lists the accepted members of a company.
func (s *Service) Members(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID) ([]Member, error) {
	c, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.ListMembers); err != nil {
		return nil, err
	}
	ms, err := s.Memberships.ListForCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	users, err := s.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		u, ok := users[m.UserID]
		if !ok {
			continue
		}
		out = append(out, Member{
			UserID:     u.ID,
			Email:      u.Email,
			Name:       u.Name,
			Surname:    u.Surname,
			Role:       m.Role,
			RoleLabel:  m.Role.Label(),
			IsOwner:    u.ID == c.OwnerID,
			AcceptedAt: m.AcceptedAt,
		})
	}
	return out, nil
}

// RemoveUser removes a member. The owner and the last Admin stay.
func (s *Service) RemoveUser(ctx context.Context, p *auth.Principal, companyID, userID primitive.ObjectID) error {
	c, err := s.company(ctx, companyID)
	if err != nil {
		return err
	}
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.RemoveUser); err != nil {
		return err
	}
	if userID == c.OwnerID {
		return apperr.Conflict(apperr.CodeConflict, "Нельзя удалить владельца компании.")
	}
	m, err := s.Memberships.FindMembership(ctx, companyID, userID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	if m == nil {
		return apperr.NotFound("Пользователь не состоит в этой компании.")
	}
	if m.Role == models.RoleAdmin {
		admins, err := s.Memberships.CountRole(ctx, companyID, models.RoleAdmin)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return apperr.Conflict(apperr.CodeConflict, "Нельзя удалить последнего администратора компании.")
		}
	}
	if err := s.Memberships.Delete(ctx, companyID, userID); err != nil {
		if errors.Is(err, membershipstore.ErrNotFound) {
			return apperr.NotFound("Пользователь не состоит в этой компании.")
		}
		return fmt.Errorf("delete membership: %w", err)
	}
	s.Audit.MemberRemoved(ctx, p.ID, companyID, userID)
	s.Events.Emit(notify.Event{
		Kind:      notify.KindMembershipRemoved,
		UserIDs:   []string{userID.Hex()},
		CompanyID: companyID.Hex(),
		RefID:     companyID.Hex(),
		Title:     c.Name,
		Message:   "Вас исключили из компании.",
	})
	return nil
}

// Delete removes a company and everything scoped to it. Only the owner may
// do this, and only while still an Admin.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID) error {
	c, err := s.company(ctx, companyID)
	if err != nil {
		return err
	}
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.DeleteCompany); err != nil {
		return err
	}
	if c.OwnerID != p.ID {
		return apperr.Forbidden("Удалить компанию может только её владелец.")
	}
	err = s.Tx.Run(ctx, func(ctx context.Context) error {
		for _, store := range s.Cascade {
			if _, err := store.DeleteForCompany(ctx, companyID); err != nil {
				return err
			}
		}
		return s.Companies.Delete(ctx, companyID)
	})
	if errors.Is(err, companystore.ErrNotFound) {
		return apperr.NotFound("Компания не найдена")
	}
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	s.Audit.CompanyDeleted(ctx, p.ID, companyID)
	return nil
}

func (s *Service) company(ctx context.Context, id primitive.ObjectID) (models.Company, error) {
	c, err := s.Companies.GetByID(ctx, id)
	if errors.Is(err, companystore.ErrNotFound) {
		return models.Company{}, apperr.NotFound("Компания не найдена")
	}
	if err != nil {
		return models.Company{}, fmt.Errorf("load company: %w", err)
	}
	return c, nil
}
