package challengestore_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	challengestore "github.com/dalemusser/unchainme/internal/app/store/challenges"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"github.com/dalemusser/unchainme/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newChallenge(t *testing.T, store *challengestore.Store, expiresIn time.Duration) models.LoginChallenge {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now().UTC()
	c := models.LoginChallenge{
		UserID:    primitive.NewObjectID(),
		CodeHash:  "hash",
		ExpiresAt: now.Add(expiresIn),
		CreatedAt: now,
	}
	if err := store.Create(ctx, &c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func TestStore_ApproveThenConsumeOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challengestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := newChallenge(t, store, 5*time.Minute)
	now := time.Now().UTC()

	if _, changed, err := store.Consume(ctx, c.ID, now); err != nil || changed {
		t.Fatalf("Consume before approval: changed=%v err=%v", changed, err)
	}

	got, changed, err := store.Approve(ctx, c.ID, now)
	if err != nil || !changed || !got.Approved {
		t.Fatalf("Approve: changed=%v approved=%v err=%v", changed, got.Approved, err)
	}
	if _, changed, _ := store.Approve(ctx, c.ID, now); changed {
		t.Error("second Approve should not change anything")
	}
	if _, changed, _ := store.Reject(ctx, c.ID, now); changed {
		t.Error("Reject after approval should not change anything")
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, changed, err := store.Consume(ctx, c.ID, now); err == nil && changed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("Consume succeeded %d times, want exactly 1", wins.Load())
	}
}

func TestStore_ExpiredChallengeIsFrozen(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challengestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := newChallenge(t, store, -time.Second)
	got, changed, err := store.Approve(ctx, c.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if changed || got.Approved {
		t.Error("expired challenge must not be approved")
	}
}

func TestStore_RecordFailedAttemptRejectsAtLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challengestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := newChallenge(t, store, 5*time.Minute)
	now := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		got, changed, err := store.RecordFailedAttempt(ctx, c.ID, 3, now)
		if err != nil || !changed {
			t.Fatalf("attempt %d: changed=%v err=%v", i, changed, err)
		}
		if got.Attempts != i {
			t.Errorf("attempts = %d, want %d", got.Attempts, i)
		}
		if got.Rejected != (i == 3) {
			t.Errorf("attempt %d: rejected = %v", i, got.Rejected)
		}
	}
	if _, changed, _ := store.RecordFailedAttempt(ctx, c.ID, 3, now); changed {
		t.Error("attempts recorded on a rejected challenge")
	}
}

func TestStore_RotateCodeResetsAttempts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challengestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := newChallenge(t, store, 5*time.Minute)
	now := time.Now().UTC()
	if _, _, err := store.RecordFailedAttempt(ctx, c.ID, 5, now); err != nil {
		t.Fatalf("RecordFailedAttempt failed: %v", err)
	}
	got, changed, err := store.RotateCode(ctx, c.ID, "new-hash", now)
	if err != nil || !changed {
		t.Fatalf("RotateCode: changed=%v err=%v", changed, err)
	}
	if got.CodeHash != "new-hash" || got.Attempts != 0 {
		t.Errorf("after rotate: hash=%q attempts=%d", got.CodeHash, got.Attempts)
	}
	if !got.ExpiresAt.Equal(c.ExpiresAt.Truncate(time.Millisecond)) {
		t.Errorf("expiry moved: %v -> %v", c.ExpiresAt, got.ExpiresAt)
	}
}

func TestStore_GetMissingAndCleanup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challengestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Get(ctx, primitive.NewObjectID()); !errors.Is(err, challengestore.ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}

	old := newChallenge(t, store, -2*time.Hour)
	fresh := newChallenge(t, store, 5*time.Minute)
	n, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, err := store.Get(ctx, old.ID); !errors.Is(err, challengestore.ErrNotFound) {
		t.Error("old challenge survived cleanup")
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh challenge removed: %v", err)
	}
}
