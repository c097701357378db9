// internal/app/store/challenges/challengestore.go
package challengestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("login challenge not found")

// retention keeps dead challenges around for a while after expiry so that
// late confirmations are reported as expired rather than missing.
const retention = time.Hour

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("login_challenges")}
}

// EnsureIndexes creates the TTL index that garbage-collects old challenges.
// Expiry itself is always checked on read; the TTL monitor only cleans up.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_login_challenges").SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_login_challenges_user"),
		},
	})
	return err
}

func (s *Store) Create(ctx context.Context, c *models.LoginChallenge) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	_, err := s.c.InsertOne(ctx, c)
	return err
}

func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.LoginChallenge, error) {
	var c models.LoginChallenge
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.LoginChallenge{}, ErrNotFound
		}
		return models.LoginChallenge{}, err
	}
	return c, nil
}

func live(id primitive.ObjectID, now time.Time) bson.M {
	return bson.M{"_id": id, "expires_at": bson.M{"$gt": now}}
}

// Approve sets approved on a live, undecided challenge. When the
// compare-and-set does not apply, the current document is returned with
// changed=false so the caller can tell why.
func (s *Store) Approve(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	f := live(id, now)
	f["approved"] = false
	f["rejected"] = false
	return s.cas(ctx, id, f, bson.M{"$set": bson.M{"approved": true}})
}

// Reject marks a live, unapproved challenge rejected. An approved challenge
// is never unapproved.
func (s *Store) Reject(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	f := live(id, now)
	f["approved"] = false
	f["rejected"] = false
	return s.cas(ctx, id, f, bson.M{"$set": bson.M{"rejected": true}})
}

// Consume marks an approved challenge as used to mint a token. Only one
// caller ever sees changed=true.
func (s *Store) Consume(ctx context.Context, id primitive.ObjectID, now time.Time) (models.LoginChallenge, bool, error) {
	f := live(id, now)
	f["approved"] = true
	f["consumed"] = false
	return s.cas(ctx, id, f, bson.M{"$set": bson.M{"consumed": true}})
}

// RotateCode replaces the code hash of a live, undecided challenge and
// resets its attempt counter. The expiry is left alone.
func (s *Store) RotateCode(ctx context.Context, id primitive.ObjectID, codeHash string, now time.Time) (models.LoginChallenge, bool, error) {
	f := live(id, now)
	f["approved"] = false
	f["rejected"] = false
	return s.cas(ctx, id, f, bson.M{"$set": bson.M{"code": codeHash, "attempts": 0}})
}

// RecordFailedAttempt increments the attempt counter of an undecided
// challenge and rejects it once maxAttempts is reached.
func (s *Store) RecordFailedAttempt(ctx context.Context, id primitive.ObjectID, maxAttempts int, now time.Time) (models.LoginChallenge, bool, error) {
	f := live(id, now)
	f["approved"] = false
	f["rejected"] = false
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"attempts": bson.M{"$add": bson.A{"$attempts", 1}}}}},
		{{Key: "$set", Value: bson.M{"rejected": bson.M{"$gte": bson.A{"$attempts", maxAttempts}}}}},
	}
	return s.cas(ctx, id, f, update)
}

func (s *Store) cas(ctx context.Context, id primitive.ObjectID, filter bson.M, update any) (models.LoginChallenge, bool, error) {
	var c models.LoginChallenge
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.LoginChallenge{}, false, err
	}
	c, err = s.Get(ctx, id)
	return c, false, err
}

// CleanupExpired removes challenges whose retention window has passed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
