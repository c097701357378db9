package companystore_test

import (
	"errors"
	"testing"

	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_NameUniquePerOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := companystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	owner, other := primitive.NewObjectID(), primitive.NewObjectID()
	c := models.Company{Name: "Acme", OwnerID: owner}
	if err := store.Create(ctx, &c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.ID.IsZero() || c.NameCI == "" || c.CreatedAt.IsZero() {
		t.Errorf("Create did not fill defaults: %+v", c)
	}

	dup := models.Company{Name: "ACME", OwnerID: owner}
	if err := store.Create(ctx, &dup); !errors.Is(err, companystore.ErrDuplicateName) {
		t.Errorf("same owner, folded name: err = %v, want ErrDuplicateName", err)
	}

	sameName := models.Company{Name: "Acme", OwnerID: other}
	if err := store.Create(ctx, &sameName); err != nil {
		t.Errorf("other owner, same name: %v", err)
	}

	exists, err := store.ExistsForOwner(ctx, owner, "acme")
	if err != nil || !exists {
		t.Errorf("ExistsForOwner(acme) = %v, %v, want true", exists, err)
	}
	exists, err = store.ExistsForOwner(ctx, owner, "Globex")
	if err != nil || exists {
		t.Errorf("ExistsForOwner(Globex) = %v, %v, want false", exists, err)
	}
}

func TestStore_CountByOwnerAndDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := companystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	var ids []primitive.ObjectID
	for _, name := range []string{"Delta", "Alpha", "Charlie"} {
		c := models.Company{Name: name, OwnerID: owner}
		if err := store.Create(ctx, &c); err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
		ids = append(ids, c.ID)
	}
	other := models.Company{Name: "Other", OwnerID: primitive.NewObjectID()}
	if err := store.Create(ctx, &other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := store.CountByOwner(ctx, owner)
	if err != nil || n != 3 {
		t.Fatalf("CountByOwner = %d, %v, want 3", n, err)
	}

	got, err := store.GetMany(ctx, ids)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(got) != 3 || got[0].Name != "Alpha" || got[2].Name != "Delta" {
		t.Errorf("GetMany order = %+v, want sorted by name", got)
	}

	if err := store.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, ids[0]); !errors.Is(err, companystore.ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByID(ctx, ids[0]); !errors.Is(err, companystore.ErrNotFound) {
		t.Errorf("GetByID after delete: err = %v, want ErrNotFound", err)
	}
	if n, _ := store.CountByOwner(ctx, owner); n != 2 {
		t.Errorf("CountByOwner after delete = %d, want 2", n)
	}
}
