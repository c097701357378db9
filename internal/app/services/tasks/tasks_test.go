package tasks_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/unchainme/internal/app/services/tasks"
	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fixture struct {
	db       *testutil.MemDB
	svc      *tasks.Service
	events   *testutil.Events
	company  primitive.ObjectID
	admin    *auth.Principal
	manager  *auth.Principal
	employee *auth.Principal
	other    *auth.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewMemDB()
	events := &testutil.Events{}
	owner := db.AddUser(t, "admin@x.com")
	c := db.AddCompany(t, owner, "Acme")
	mgr := db.AddUser(t, "manager@x.com")
	emp := db.AddUser(t, "emp@x.com")
	emp2 := db.AddUser(t, "emp2@x.com")
	db.AddMember(t, c.ID, mgr, models.RoleManager)
	db.AddMember(t, c.ID, emp, models.RoleEmployee)
	db.AddMember(t, c.ID, emp2, models.RoleEmployee)

	return &fixture{
		db: db,
		svc: tasks.New(tasks.Deps{
			Tasks:  db.Tasks,
			Policy: authz.NewPolicy(db.Memberships),
			Events: events,
		}),
		events:   events,
		company:  c.ID,
		admin:    testutil.Principal(owner),
		manager:  testutil.Principal(mgr),
		employee: testutil.Principal(emp),
		other:    testutil.Principal(emp2),
	}
}

func (f *fixture) newTask(t *testing.T) models.Task {
	t.Helper()
	task, err := f.svc.Create(context.Background(), f.manager, f.company, tasks.CreateInput{Title: "Починить принтер"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestLifecycle_ClaimComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)
	if task.Status != models.TaskNew || task.AssignedToID != nil {
		t.Fatalf("new task = %+v", task)
	}

	claimed, err := f.svc.Claim(ctx, f.employee, f.company, task.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != models.TaskAccepted || claimed.AssignedToID == nil || *claimed.AssignedToID != f.employee.ID {
		t.Fatalf("claimed = %+v", claimed)
	}

	done, err := f.svc.Complete(ctx, f.employee, f.company, task.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != models.TaskDone {
		t.Errorf("status = %s, want Done", done.Status)
	}
	if !done.UpdatedAt.After(task.CreatedAt) && !done.UpdatedAt.Equal(task.CreatedAt) {
		t.Errorf("updated_at %v precedes created_at %v", done.UpdatedAt, task.CreatedAt)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)

	if _, err := f.svc.Complete(ctx, f.employee, f.company, task.ID); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("complete New: err = %v, want invalid transition", err)
	}
	if _, err := f.svc.Unassign(ctx, f.manager, f.company, task.ID); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("unassign New: err = %v, want invalid transition", err)
	}

	if _, err := f.svc.Claim(ctx, f.employee, f.company, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err := f.svc.Claim(ctx, f.other, f.company, task.ID)
	if !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Fatalf("second claim: err = %v, want invalid transition", err)
	}
	if !strings.Contains(err.Error(), "Accepted") {
		t.Errorf("message %q should name the current status", err.Error())
	}

	if _, err := f.svc.Complete(ctx, f.employee, f.company, task.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for name, call := range map[string]func() error{
		"claim":    func() error { _, err := f.svc.Claim(ctx, f.other, f.company, task.ID); return err },
		"complete": func() error { _, err := f.svc.Complete(ctx, f.employee, f.company, task.ID); return err },
		"unassign": func() error { _, err := f.svc.Unassign(ctx, f.admin, f.company, task.ID); return err },
	} {
		if err := call(); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
			t.Errorf("%s on Done: err = %v, want invalid transition", name, err)
		}
	}
}

func TestComplete_OnlyAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)
	if _, err := f.svc.Claim(ctx, f.employee, f.company, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	_, err := f.svc.Complete(ctx, f.other, f.company, task.ID)
	if apperr.KindOf(err) != apperr.KindStateConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
	got, _ := f.db.Tasks.Get(ctx, f.company, task.ID)
	if got.Status != models.TaskAccepted {
		t.Errorf("status = %s, want Accepted", got.Status)
	}
}

func TestUnassign_NotifiesFormerAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)
	if _, err := f.svc.Claim(ctx, f.employee, f.company, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	got, err := f.svc.Unassign(ctx, f.admin, f.company, task.ID)
	if err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if got.Status != models.TaskNew || got.AssignedToID != nil {
		t.Errorf("task = %+v, want New and unassigned", got)
	}

	evs := f.events.OfKind(notify.KindTaskUnassigned)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].UserIDs[0] != f.employee.ID.Hex() || evs[0].RefID != task.ID.Hex() {
		t.Errorf("event = %+v", evs[0])
	}

	// Back in New, anyone may claim again.
	if _, err := f.svc.Claim(ctx, f.other, f.company, task.ID); err != nil {
		t.Errorf("reclaim: %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unassigned := f.newTask(t)
	if err := f.svc.Delete(ctx, f.manager, f.company, unassigned.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.events.All()) != 0 {
		t.Errorf("unassigned delete emitted %d events", len(f.events.All()))
	}

	claimed := f.newTask(t)
	if _, err := f.svc.Claim(ctx, f.employee, f.company, claimed.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := f.svc.Delete(ctx, f.admin, f.company, claimed.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	evs := f.events.OfKind(notify.KindTaskDeleted)
	if len(evs) != 1 || evs[0].UserIDs[0] != f.employee.ID.Hex() {
		t.Fatalf("events = %+v", evs)
	}

	if err := f.svc.Delete(ctx, f.admin, f.company, claimed.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("second delete: err = %v, want not found", err)
	}
}

func TestDelete_RetryNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)
	claimed, err := f.svc.Claim(ctx, f.employee, f.company, task.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	f.db.Tasks.InjectConflicts = 1
	if err := f.svc.Delete(ctx, f.manager, f.company, claimed.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if evs := f.events.OfKind(notify.KindTaskDeleted); len(evs) != 1 {
		t.Errorf("task deleted events = %d, want 1", len(evs))
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    tasks.CreateInput
		field string
	}{
		{"empty title", tasks.CreateInput{Title: "   "}, "title"},
		{"markup only", tasks.CreateInput{Title: "<b></b>"}, "title"},
		{"long title", tasks.CreateInput{Title: strings.Repeat("я", tasks.MaxTitleLength+1)}, "title"},
		{"long description", tasks.CreateInput{Title: "ok", Description: strings.Repeat("a", tasks.MaxDescriptionLength+1)}, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.manager, f.company, tt.in)
			e, ok := apperr.As(err)
			if !ok || e.Kind != apperr.KindValidation || e.Field != tt.field {
				t.Fatalf("err = %v, want validation on %s", err, tt.field)
			}
		})
	}

	task, err := f.svc.Create(ctx, f.manager, f.company, tasks.CreateInput{
		Title:       "<i>Отчёт</i>",
		Description: `<p>Собрать <script>alert(1)</script>данные</p>`,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Title != "Отчёт" {
		t.Errorf("title = %q", task.Title)
	}
	if strings.Contains(task.Description, "script") {
		t.Errorf("description not sanitized: %q", task.Description)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)
	outsider := testutil.Principal(f.db.AddUser(t, "out@x.com"))

	if _, err := f.svc.Create(ctx, f.employee, f.company, tasks.CreateInput{Title: "x"}); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("employee create: err = %v, want forbidden", err)
	}
	if _, err := f.svc.Claim(ctx, f.manager, f.company, task.ID); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("manager claim: err = %v, want forbidden", err)
	}
	if err := f.svc.Delete(ctx, f.employee, f.company, task.ID); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("employee delete: err = %v, want forbidden", err)
	}
	if _, err := f.svc.List(ctx, outsider, f.company); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("outsider list: err = %v, want forbidden", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.List(ctx, f.employee, f.company)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("List = %v, %v; want empty non-nil", empty, err)
	}

	first := f.newTask(t)
	second := f.newTask(t)
	got, err := f.svc.List(ctx, f.employee, f.company)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if second.CreatedAt.After(first.CreatedAt) && got[0].ID != second.ID {
		t.Errorf("order = %v, %v; want newest first", got[0].ID, got[1].ID)
	}
}

func TestClaim_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)

	f.db.Tasks.InjectConflicts = 2
	got, err := f.svc.Claim(ctx, f.employee, f.company, task.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.Status != models.TaskAccepted {
		t.Errorf("status = %s", got.Status)
	}

	other := f.newTask(t)
	f.db.Tasks.InjectConflicts = 3
	if _, err := f.svc.Claim(ctx, f.employee, f.company, other.ID); apperr.KindOf(err) != apperr.KindStateConflict {
		t.Errorf("err = %v, want conflict after exhausting retries", err)
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.newTask(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []primitive.ObjectID
	)
	for _, p := range []*auth.Principal{f.employee, f.other, f.employee, f.other} {
		wg.Add(1)
		go func(p *auth.Principal) {
			defer wg.Done()
			if _, err := f.svc.Claim(ctx, p, f.company, task.ID); err == nil {
				mu.Lock()
				wins = append(wins, p.ID)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("winners = %d, want 1", len(wins))
	}
	got, _ := f.db.Tasks.Get(ctx, f.company, task.ID)
	if got.AssignedToID == nil || *got.AssignedToID != wins[0] {
		t.Errorf("assignee = %v, want %v", got.AssignedToID, wins[0])
	}
}
