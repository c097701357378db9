package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeMembers struct {
	rows map[[2]primitive.ObjectID]models.Membership
	err  error
}

func (f *fakeMembers) FindMembership(_ context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.rows[[2]primitive.ObjectID{companyID, userID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMembers) add(companyID, userID primitive.ObjectID, role models.Role, accepted bool) {
	now := time.Now()
	m := models.Membership{CompanyID: companyID, UserID: userID, Role: role, InvitedAt: now}
	if accepted {
		m.AcceptedAt = &now
	}
	f.rows[[2]primitive.ObjectID{companyID, userID}] = m
}

func TestAllows_Table(t *testing.T) {
	tests := []struct {
		role   models.Role
		action authz.Action
		want   bool
	}{
		{models.RoleManager, authz.CreateTask, true},
		{models.RoleAdmin, authz.CreateTask, true},
		{models.RoleEmployee, authz.CreateTask, false},
		{models.RoleEmployee, authz.ClaimTask, true},
		{models.RoleManager, authz.ClaimTask, false},
		{models.RoleAdmin, authz.UnassignTask, true},
		{models.RoleDirector, authz.DeleteTask, false},
		{models.RoleEmployee, authz.CreateApplication, true},
		{models.RoleAssistant, authz.CreateApplication, false},
		{models.RoleAssistant, authz.AssistantReview, true},
		{models.RoleDirector, authz.AssistantReview, false},
		{models.RoleDirector, authz.DirectorReview, true},
		{models.RoleAdmin, authz.DirectorReview, false},
		{models.RoleAdmin, authz.InviteUser, true},
		{models.RoleManager, authz.InviteUser, false},
		{models.RoleAdmin, authz.RemoveUser, true},
		{models.RoleDirector, authz.ListTasks, true},
		{models.RoleAdmin, authz.ViewAuditLog, true},
		{models.RoleManager, authz.ViewAuditLog, false},
		{models.RoleNone, authz.ListTasks, false},
		{models.RoleAdmin, authz.Action("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			if got := authz.Allows(tt.role, tt.action); got != tt.want {
				t.Errorf("Allows(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.want)
			}
		})
	}
}

func TestRoleOf_PendingMembershipIsNotMember(t *testing.T) {
	members := &fakeMembers{rows: map[[2]primitive.ObjectID]models.Membership{}}
	company, user := primitive.NewObjectID(), primitive.NewObjectID()
	members.add(company, user, models.RoleAdmin, false)

	p := authz.NewPolicy(members)
	role, err := p.RoleOf(context.Background(), user, company)
	if err != nil {
		t.Fatalf("RoleOf: %v", err)
	}
	if role != models.RoleNone {
		t.Errorf("expected RoleNone for unaccepted membership, got %q", role)
	}

	if _, err := p.Authorize(context.Background(), user, company, authz.ListTasks); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("expected authorization error, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	members := &fakeMembers{rows: map[[2]primitive.ObjectID]models.Membership{}}
	company := primitive.NewObjectID()
	manager, employee, stranger := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	members.add(company, manager, models.RoleManager, true)
	members.add(company, employee, models.RoleEmployee, true)

	p := authz.NewPolicy(members)
	ctx := context.Background()

	role, err := p.Authorize(ctx, manager, company, authz.CreateTask)
	if err != nil || role != models.RoleManager {
		t.Errorf("manager create-task: role=%q err=%v", role, err)
	}
	if _, err := p.Authorize(ctx, employee, company, authz.CreateTask); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("employee create-task: expected forbidden, got %v", err)
	}
	if _, err := p.Authorize(ctx, stranger, company, authz.ListTasks); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("stranger list-tasks: expected forbidden, got %v", err)
	}
	if _, err := p.Authorize(ctx, manager, primitive.NewObjectID(), authz.CreateTask); err == nil {
		t.Error("membership in one company must not grant rights in another")
	}
}

func TestAuthorize_StoreError(t *testing.T) {
	boom := errors.New("db down")
	p := authz.NewPolicy(&fakeMembers{err: boom})

	_, err := p.Authorize(context.Background(), primitive.NewObjectID(), primitive.NewObjectID(), authz.ListTasks)
	if !errors.Is(err, boom) {
		t.Errorf("expected store error to propagate, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("store failure must stay unclassified, got %v", apperr.KindOf(err))
	}
}
