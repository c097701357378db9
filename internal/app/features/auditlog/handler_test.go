package auditlog_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/dalemusser/unchainme/internal/app/features/auditlog"
	uierrors "github.com/dalemusser/unchainme/internal/app/features/errors"
	"github.com/dalemusser/unchainme/internal/app/store/audit"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeEvents struct {
	events []audit.Event
	last   audit.QueryFilter
	calls  int
}

func (f *fakeEvents) Query(_ context.Context, q audit.QueryFilter) ([]audit.Event, error) {
	f.calls++
	f.last = q
	if int64(len(f.events)) > q.Limit {
		return f.events[:q.Limit], nil
	}
	return f.events, nil
}

type env struct {
	router   chi.Router
	events   *fakeEvents
	company  primitive.ObjectID
	url      string
	admin    models.User
	director models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewMemDB()
	admin := db.AddUser(t, "admin@x.com")
	c := db.AddCompany(t, admin, "Acme")
	director := db.AddUser(t, "dir@x.com")
	db.AddMember(t, c.ID, director, models.RoleDirector)

	e := &env{
		events:   &fakeEvents{},
		company:  c.ID,
		url:      "/companies/" + c.ID.Hex() + "/audit",
		admin:    admin,
		director: director,
	}
	logger := zap.NewNop()
	e.router = chi.NewRouter()
	auditlog.MountRoutes(e.router, auditlog.NewHandler(e.events, authz.NewPolicy(db.Memberships), uierrors.NewErrorLogger(logger), logger))
	return e
}

func (e *env) get(t *testing.T, target string, u models.User) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, testutil.AsUser(testutil.NewRequest(http.MethodGet, target), u))
	return rec
}

type listBody struct {
	Events  []audit.Event `json:"events"`
	Page    int           `json:"page"`
	HasMore bool          `json:"hasMore"`
}

func TestServeList_AdminSeesCompanyEvents(t *testing.T) {
	e := newEnv(t)
	e.events.events = []audit.Event{
		{ID: primitive.NewObjectID(), Category: audit.CategoryAdmin, EventType: audit.EventInvitationCreated, Success: true},
	}

	rec := e.get(t, e.url+"?category=admin&event_type=invitation_created&start_date=2026-01-01&end_date=2026-01-31", e.admin)
	rec.AssertStatus(t, http.StatusOK)

	var body listBody
	rec.DecodeJSON(t, &body)
	if len(body.Events) != 1 || body.Page != 1 || body.HasMore {
		t.Errorf("body = %+v, want one event on page 1", body)
	}

	f := e.events.last
	if f.CompanyID == nil || *f.CompanyID != e.company {
		t.Errorf("CompanyID = %v, want path company", f.CompanyID)
	}
	if f.Category != audit.CategoryAdmin || f.EventType != audit.EventInvitationCreated {
		t.Errorf("filter = %+v", f)
	}
	if f.StartTime == nil || f.EndTime == nil || !f.EndTime.After(*f.StartTime) {
		t.Fatalf("date range = %v..%v", f.StartTime, f.EndTime)
	}
	if f.EndTime.Day() != 31 || f.EndTime.Hour() != 23 {
		t.Errorf("EndTime = %v, want end of 2026-01-31", f.EndTime)
	}
}

func TestServeList_Paging(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 60; i++ {
		e.events.events = append(e.events.events, audit.Event{ID: primitive.NewObjectID(), Category: audit.CategoryAuth})
	}

	rec := e.get(t, e.url+"?page=2", e.admin)
	rec.AssertStatus(t, http.StatusOK)

	var body listBody
	rec.DecodeJSON(t, &body)
	if len(body.Events) != 50 || !body.HasMore || body.Page != 2 {
		t.Errorf("events=%d hasMore=%v page=%d, want 50 true 2", len(body.Events), body.HasMore, body.Page)
	}
	if e.events.last.Offset != 50 {
		t.Errorf("Offset = %d, want 50", e.events.last.Offset)
	}
}

func TestServeList_AdminOnly(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, e.url, e.director)
	rec.AssertStatus(t, http.StatusForbidden)

	outsider := testutil.NewMemDB().AddUser(t, "out@x.com")
	rec = e.get(t, e.url, outsider)
	rec.AssertStatus(t, http.StatusForbidden)

	if e.events.calls != 0 {
		t.Errorf("Query called %d times for unauthorized readers", e.events.calls)
	}
}

func TestServeList_BadInput(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, e.url+"?start_date=yesterday", e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "start_date")

	rec = e.get(t, "/companies/nope/audit", e.admin)
	rec.AssertStatus(t, http.StatusNotFound)
}
