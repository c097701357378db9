// internal/app/services/applications/applications.go
// Package applications runs the two-stage review pipeline for employee
// applications: an assistant reviews first, then a director.
package applications

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	applicationstore "github.com/dalemusser/unchainme/internal/app/store/applications"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/htmlsanitize"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	MaxCustomTypeLength = 200
	MaxCommentLength    = 4000

	maxWriteAttempts = 3
)

// Store is the subset of the applications store the service needs.
type Store interface {
	Create(ctx context.Context, a *models.Application) error
	Get(ctx context.Context, companyID, id primitive.ObjectID) (models.Application, error)
	List(ctx context.Context, companyID primitive.ObjectID, createdBy *primitive.ObjectID) ([]models.Application, error)
	Update(ctx context.Context, a *models.Application) error
	CountByStatus(ctx context.Context, creatorID primitive.ObjectID, companyIDs []primitive.ObjectID) (map[models.ApplicationStatus]int, error)
}

// Memberships finds reviewers to notify and the caller's companies.
type Memberships interface {
	ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error)
	UserIDsWithRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) ([]primitive.ObjectID, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Applications Store
	Memberships  Memberships
	Policy       *authz.Policy
	Events       notify.Emitter
	Log          *zap.Logger
}

// Service implements application operations.
type Service struct {
	Deps
	now func() time.Time
}

// New constructs a Service. A nil emitter discards events.
func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = notify.Discard{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{Deps: d, now: time.Now}
}

// CreateInput is a new application. CustomType is required for AppTypeOther
// and ignored otherwise.
type CreateInput struct {
	Type       models.ApplicationType
	CustomType string
	Comment    string
}

// ReviewInput is a reviewer's verdict.
type ReviewInput struct {
	Approve bool
	Comment string
}

// List returns the company's applications, newest first. Employees only
// see their own.
func (s *Service) List(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID) ([]models.Application, error) {
	role, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.ListApplications)
	if err != nil {
		return nil, err
	}
	var createdBy *primitive.ObjectID
	if role == models.RoleEmployee {
		id := p.ID
		createdBy = &id
	}
	as, err := s.Applications.List(ctx, companyID, createdBy)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	if as == nil {
		as = []models.Application{}
	}
	return as, nil
}

// Create files a new application and tells every assistant of the company.
func (s *Service) Create(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID, in CreateInput) (models.Application, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.CreateApplication); err != nil {
		return models.Application{}, err
	}
	if !validType(in.Type) {
		return models.Application{}, apperr.Validation("type", "Неизвестный тип заявки.")
	}
	custom := ""
	if in.Type == models.AppTypeOther {
		custom = htmlsanitize.PlainText(in.CustomType)
		if custom == "" {
			return models.Application{}, apperr.Validation("customType", "Укажите тип заявки.")
		}
		if utf8.RuneCountInString(custom) > MaxCustomTypeLength {
			return models.Application{}, apperr.Validation("customType",
				fmt.Sprintf("Тип заявки не должен превышать %d символов.", MaxCustomTypeLength))
		}
	}
	comment, err := cleanComment(in.Comment)
	if err != nil {
		return models.Application{}, err
	}

	a := models.Application{
		ID:          primitive.NewObjectID(),
		CompanyID:   companyID,
		CreatedByID: p.ID,
		Type:        in.Type,
		CustomType:  custom,
		Comment:     comment,
		Status:      models.AppNew,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.Applications.Create(ctx, &a); err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}

	s.notifyRole(ctx, a, models.RoleAssistant, notify.KindApplicationCreated,
		"Новая заявка", "Появилась новая заявка на рассмотрение.")
	return a, nil
}

// AssistantReview decides a New application. Approval forwards it to the
// directors; rejection goes back to the creator.
func (s *Service) AssistantReview(ctx context.Context, p *auth.Principal, companyID, appID primitive.ObjectID, in ReviewInput) (models.Application, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.AssistantReview); err != nil {
		return models.Application{}, err
	}
	a, err := s.advance(ctx, companyID, appID, StageAssistant, p.ID, in)
	if err != nil {
		return models.Application{}, err
	}
	if in.Approve {
		s.notifyRole(ctx, a, models.RoleDirector, notify.KindApplicationForwarded,
			"Заявка одобрена помощником", "Заявка одобрена помощником, ожидает вашего решения.")
	} else {
		s.notifyCreator(a, "Заявка отклонена", "Ваша заявка отклонена помощником директора.")
	}
	return a, nil
}

// DirectorReview decides an AssistantApproved application and always tells
// the creator.
func (s *Service) DirectorReview(ctx context.Context, p *auth.Principal, companyID, appID primitive.ObjectID, in ReviewInput) (models.Application, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.DirectorReview); err != nil {
		return models.Application{}, err
	}
	a, err := s.advance(ctx, companyID, appID, StageDirector, p.ID, in)
	if err != nil {
		return models.Application{}, err
	}
	msg := "Ваша заявка одобрена директором"
	if !in.Approve {
		msg = "Ваша заявка отклонена директором"
	}
	s.notifyCreator(a, "Рассмотрение заявки директором", msg)
	return a, nil
}

// Stats summarises the caller's own applications across every company they
// have joined.
func (s *Service) Stats(ctx context.Context, p *auth.Principal) (models.ApplicationStats, error) {
	ms, err := s.Memberships.ListForUser(ctx, p.ID)
	if err != nil {
		return models.ApplicationStats{}, fmt.Errorf("list memberships: %w", err)
	}
	stats := models.ApplicationStats{Companies: len(ms)}
	if len(ms) == 0 {
		return stats, nil
	}
	ids := make([]primitive.ObjectID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.CompanyID)
	}
	counts, err := s.Applications.CountByStatus(ctx, p.ID, ids)
	if err != nil {
		return models.ApplicationStats{}, fmt.Errorf("count applications: %w", err)
	}
	for status, n := range counts {
		stats.Total += n
		if Done(status) {
			stats.Done += n
		}
		if Pending(status) {
			stats.Pending += n
		}
	}
	return stats, nil
}

func (s *Service) advance(ctx context.Context, companyID, appID primitive.ObjectID, st Stage, reviewer primitive.ObjectID, in ReviewInput) (models.Application, error) {
	comment, err := cleanComment(in.Comment)
	if err != nil {
		return models.Application{}, err
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		a, err := s.Applications.Get(ctx, companyID, appID)
		if errors.Is(err, applicationstore.ErrNotFound) {
			return models.Application{}, apperr.NotFound("Заявка не найдена")
		}
		if err != nil {
			return models.Application{}, fmt.Errorf("load application: %w", err)
		}
		if err := review(&a, st, reviewer, in.Approve, comment, s.now().UTC()); err != nil {
			return models.Application{}, err
		}
		err = s.Applications.Update(ctx, &a)
		if errors.Is(err, applicationstore.ErrVersionConflict) {
			s.Log.Debug("application version conflict, retrying",
				zap.String("application_id", appID.Hex()), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return models.Application{}, fmt.Errorf("update application: %w", err)
		}
		return a, nil
	}
	return models.Application{}, apperr.Conflict(apperr.CodeConflict,
		"Заявка изменяется другим пользователем. Повторите попытку.")
}

func (s *Service) notifyRole(ctx context.Context, a models.Application, role models.Role, kind notify.Kind, title, msg string) {
	ids, err := s.Memberships.UserIDsWithRole(ctx, a.CompanyID, role)
	if err != nil {
		s.Log.Warn("load reviewers for notification",
			zap.String("company_id", a.CompanyID.Hex()), zap.String("role", string(role)), zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	to := make([]string, len(ids))
	for i, id := range ids {
		to[i] = id.Hex()
	}
	s.Events.Emit(notify.Event{
		Kind:      kind,
		UserIDs:   to,
		CompanyID: a.CompanyID.Hex(),
		RefID:     a.ID.Hex(),
		Title:     title,
		Message:   msg,
	})
}

func (s *Service) notifyCreator(a models.Application, title, msg string) {
	s.Events.Emit(notify.Event{
		Kind:      notify.KindApplicationReviewed,
		UserIDs:   []string{a.CreatedByID.Hex()},
		CompanyID: a.CompanyID.Hex(),
		RefID:     a.ID.Hex(),
		Title:     title,
		Message:   msg,
	})
}

func cleanComment(s string) (string, error) {
	c := htmlsanitize.PlainText(s)
	if utf8.RuneCountInString(c) > MaxCommentLength {
		return "", apperr.Validation("comment",
			fmt.Sprintf("Комментарий не должен превышать %d символов.", MaxCommentLength))
	}
	return c, nil
}

func validType(t models.ApplicationType) bool {
	for _, v := range models.AllApplicationTypes {
		if v == t {
			return true
		}
	}
	return false
}
