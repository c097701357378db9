package membershipstore_test

import (
	"errors"
	"testing"
	"time"

	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_OneRowPerCompanyUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	companyID, userID := primitive.NewObjectID(), primitive.NewObjectID()
	now := time.Now().UTC()
	m := models.Membership{CompanyID: companyID, UserID: userID, Role: models.RoleManager, InvitedAt: now, AcceptedAt: &now}
	if err := store.Insert(ctx, &m); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	dup := models.Membership{CompanyID: companyID, UserID: userID, Role: models.RoleEmployee, InvitedAt: now}
	if err := store.Insert(ctx, &dup); !errors.Is(err, membershipstore.ErrDuplicateMembership) {
		t.Errorf("duplicate Insert: err = %v, want ErrDuplicateMembership", err)
	}

	got, err := store.FindMembership(ctx, companyID, userID)
	if err != nil || got == nil {
		t.Fatalf("FindMembership = %v, %v", got, err)
	}
	if got.Role != models.RoleManager {
		t.Errorf("role = %q, want Manager", got.Role)
	}

	none, err := store.FindMembership(ctx, primitive.NewObjectID(), userID)
	if err != nil || none != nil {
		t.Errorf("FindMembership for stranger = %v, %v; want nil, nil", none, err)
	}
}

func TestStore_ListForUserSkipsPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	now := time.Now().UTC()
	accepted := models.Membership{CompanyID: primitive.NewObjectID(), UserID: userID, Role: models.RoleEmployee, InvitedAt: now, AcceptedAt: &now}
	pending := models.Membership{CompanyID: primitive.NewObjectID(), UserID: userID, Role: models.RoleEmployee, InvitedAt: now}
	for _, m := range []*models.Membership{&accepted, &pending} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	list, err := store.ListForUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(list) != 1 || list[0].CompanyID != accepted.CompanyID {
		t.Errorf("ListForUser = %+v, want only the accepted membership", list)
	}

	n, err := store.DeleteForUser(ctx, userID)
	if err != nil || n != 2 {
		t.Errorf("DeleteForUser = %d, %v; want 2, nil", n, err)
	}
}
