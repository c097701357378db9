// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"

	"github.com/dalemusser/unchainme/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound            = errors.New("membership not found")
	ErrDuplicateMembership = errors.New("user is already a member of this company")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("company_memberships")}
}

// EnsureIndexes enforces one membership row per (company, user).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetName("uniq_memberships_company_user").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_memberships_user"),
		},
	})
	return err
}

// Insert adds m. A second row for the same (company, user) fails with
// ErrDuplicateMembership.
func (s *Store) Insert(ctx context.Context, m *models.Membership) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateMembership
		}
		return err
	}
	return nil
}

// FindMembership returns nil, nil when the user has no row in the company.
func (s *Store) FindMembership(ctx context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error) {
	var m models.Membership
	err := s.c.FindOne(ctx, bson.M{"company_id": companyID, "user_id": userID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListForUser returns the user's accepted memberships.
func (s *Store) ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error) {
	return s.find(ctx, bson.M{"user_id": userID, "accepted_at": bson.M{"$ne": nil}})
}

// ListForCompany returns every accepted membership of the company.
func (s *Store) ListForCompany(ctx context.Context, companyID primitive.ObjectID) ([]models.Membership, error) {
	return s.find(ctx, bson.M{"company_id": companyID, "accepted_at": bson.M{"$ne": nil}})
}

// UserIDsWithRole lists accepted members holding role.
func (s *Store) UserIDsWithRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) ([]primitive.ObjectID, error) {
	ms, err := s.find(ctx, bson.M{"company_id": companyID, "role": role, "accepted_at": bson.M{"$ne": nil}})
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *Store) CountRole(ctx context.Context, companyID primitive.ObjectID, role models.Role) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"company_id": companyID, "role": role, "accepted_at": bson.M{"$ne": nil}})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Membership, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "invited_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Membership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, companyID, userID primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"company_id": companyID, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteForCompany(ctx context.Context, companyID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteForUser(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
