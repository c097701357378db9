// internal/app/services/tasks/tasks.go
// Package tasks runs the task lifecycle: New → Accepted → Done, with
// unassign back to New and deletion from any status.
//
// Writes are guarded by the task's version. When another writer wins, the
// task is reloaded and the lifecycle is evaluated again against the fresh
// status.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	taskstore "github.com/dalemusser/unchainme/internal/app/store/tasks"
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
	MaxTitleLength       = 200
	MaxDescriptionLength = 4000

	// maxWriteAttempts bounds reload-and-retry on version conflicts.
	maxWriteAttempts = 3
)

// Store is the subset of the tasks store the service needs.
type Store interface {
	Create(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, companyID, id primitive.ObjectID) (models.Task, error)
	ListByCompany(ctx context.Context, companyID primitive.ObjectID) ([]models.Task, error)
	Update(ctx context.Context, t *models.Task) error
	Delete(ctx context.Context, id primitive.ObjectID, version int64) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Tasks  Store
	Policy *authz.Policy
	Events notify.Emitter
	Log    *zap.Logger
}

// Service implements task operations.
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

// CreateInput is a new task. Description may contain basic HTML.
type CreateInput struct {
	Title       string
	Description string
}

// List returns every task of the company, newest first.
func (s *Service) List(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID) ([]models.Task, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.ListTasks); err != nil {
		return nil, err
	}
	ts, err := s.Tasks.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if ts == nil {
		ts = []models.Task{}
	}
	return ts, nil
}

// Create adds a task in status New.
func (s *Service) Create(ctx context.Context, p *auth.Principal, companyID primitive.ObjectID, in CreateInput) (models.Task, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.CreateTask); err != nil {
		return models.Task{}, err
	}
	title := htmlsanitize.PlainText(in.Title)
	if title == "" {
		return models.Task{}, apperr.Validation("title", "Укажите название задачи.")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return models.Task{}, apperr.Validation("title",
			fmt.Sprintf("Название задачи не должно превышать %d символов.", MaxTitleLength))
	}
	desc := htmlsanitize.Sanitize(in.Description)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return models.Task{}, apperr.Validation("description",
			fmt.Sprintf("Описание задачи не должно превышать %d символов.", MaxDescriptionLength))
	}

	t := models.Task{
		ID:          primitive.NewObjectID(),
		CompanyID:   companyID,
		Title:       title,
		Description: desc,
		CreatedByID: p.ID,
		Status:      models.TaskNew,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.Tasks.Create(ctx, &t); err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Claim assigns a New task to the caller.
func (s *Service) Claim(ctx context.Context, p *auth.Principal, companyID, taskID primitive.ObjectID) (models.Task, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.ClaimTask); err != nil {
		return models.Task{}, err
	}
	t, _, err := s.transition(ctx, companyID, taskID, actionClaim, p.ID)
	return t, err
}

// Complete marks the caller's Accepted task Done.
func (s *Service) Complete(ctx context.Context, p *auth.Principal, companyID, taskID primitive.ObjectID) (models.Task, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.CompleteTask); err != nil {
		return models.Task{}, err
	}
	t, _, err := s.transition(ctx, companyID, taskID, actionComplete, p.ID)
	return t, err
}

// Unassign returns an Accepted task to New and tells the former assignee.
func (s *Service) Unassign(ctx context.Context, p *auth.Principal, companyID, taskID primitive.ObjectID) (models.Task, error) {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.UnassignTask); err != nil {
		return models.Task{}, err
	}
	t, before, err := s.transition(ctx, companyID, taskID, actionUnassign, p.ID)
	if err != nil {
		return models.Task{}, err
	}
	if before.AssignedToID != nil {
		s.Events.Emit(notify.Event{
			Kind:      notify.KindTaskUnassigned,
			UserIDs:   []string{before.AssignedToID.Hex()},
			CompanyID: companyID.Hex(),
			RefID:     taskID.Hex(),
			Title:     t.Title,
			Message:   "Задача была сброшена администратором.",
		})
	}
	return t, nil
}

// Delete removes a task in any status and tells its assignee, if any.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, companyID, taskID primitive.ObjectID) error {
	if _, err := s.Policy.Authorize(ctx, p.ID, companyID, authz.DeleteTask); err != nil {
		return err
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		t, err := s.load(ctx, companyID, taskID)
		if err != nil {
			return err
		}
		err = s.Tasks.Delete(ctx, t.ID, t.Version)
		if errors.Is(err, taskstore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		// Emitted after the delete so a version conflict retry never notifies twice.
		if t.AssignedToID != nil {
			s.Events.Emit(notify.Event{
				Kind:      notify.KindTaskDeleted,
				UserIDs:   []string{t.AssignedToID.Hex()},
				CompanyID: companyID.Hex(),
				RefID:     taskID.Hex(),
				Title:     t.Title,
				Message:   "Задача была удалена администратором.",
			})
		}
		return nil
	}
	return errContended()
}

// transition loads the task, applies a through the lifecycle table and
// writes it back, retrying on version conflicts. It returns the task after
// and before the change.
func (s *Service) transition(ctx context.Context, companyID, taskID primitive.ObjectID, a action, actor primitive.ObjectID) (models.Task, models.Task, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		t, err := s.load(ctx, companyID, taskID)
		if err != nil {
			return models.Task{}, models.Task{}, err
		}
		before := t
		if err := apply(&t, a, actor, s.now().UTC()); err != nil {
			return models.Task{}, models.Task{}, err
		}
		err = s.Tasks.Update(ctx, &t)
		if errors.Is(err, taskstore.ErrVersionConflict) {
			s.Log.Debug("task version conflict, retrying",
				zap.String("task_id", taskID.Hex()), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return models.Task{}, models.Task{}, fmt.Errorf("update task: %w", err)
		}
		return t, before, nil
	}
	return models.Task{}, models.Task{}, errContended()
}

func (s *Service) load(ctx context.Context, companyID, taskID primitive.ObjectID) (models.Task, error) {
	t, err := s.Tasks.Get(ctx, companyID, taskID)
	if errors.Is(err, taskstore.ErrNotFound) {
		return models.Task{}, apperr.NotFound("Задача не найдена")
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("load task: %w", err)
	}
	return t, nil
}

func errContended() error {
	return apperr.Conflict(apperr.CodeConflict, "Задача изменяется другим пользователем. Повторите попытку.")
}
