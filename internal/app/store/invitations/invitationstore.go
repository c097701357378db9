// internal/app/store/invitations/invitationstore.go
package invitationstore

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

var (
	ErrNotFound        = errors.New("invitation not found")
	ErrAlreadyAccepted = errors.New("invitation already accepted")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("invitations")}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "accepted", Value: 1}},
			Options: options.Index().SetName("idx_invitations_email_accepted"),
		},
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "accepted", Value: 1}},
			Options: options.Index().SetName("idx_invitations_company_accepted"),
		},
	})
	return err
}

// Create inserts inv. Duplicate (company, email) pairs are allowed.
func (s *Store) Create(ctx context.Context, inv *models.Invitation) error {
	if inv.ID.IsZero() {
		inv.ID = primitive.NewObjectID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, inv)
	return err
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Invitation, error) {
	var inv models.Invitation
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&inv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Invitation{}, ErrNotFound
		}
		return models.Invitation{}, err
	}
	return inv, nil
}

// ListPendingForEmail returns unaccepted invitations addressed to email.
func (s *Store) ListPendingForEmail(ctx context.Context, email string) ([]models.Invitation, error) {
	return s.find(ctx, bson.M{"email": email, "accepted": false})
}

// ListPendingForCompany returns unaccepted invitations of the company.
func (s *Store) ListPendingForCompany(ctx context.Context, companyID primitive.ObjectID) ([]models.Invitation, error) {
	return s.find(ctx, bson.M{"company_id": companyID, "accepted": false})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Invitation, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Invitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAccepted flips accepted from false to true. Exactly one concurrent
// caller succeeds; the others get ErrAlreadyAccepted.
func (s *Store) MarkAccepted(ctx context.Context, id primitive.ObjectID, at time.Time) (models.Invitation, error) {
	var inv models.Invitation
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "accepted": false},
		bson.M{"$set": bson.M{"accepted": true, "accepted_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&inv)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Invitation{}, err
	}
	if _, gerr := s.GetByID(ctx, id); gerr != nil {
		return models.Invitation{}, gerr
	}
	return models.Invitation{}, ErrAlreadyAccepted
}

// DeletePending removes an unaccepted invitation of the company.
func (s *Store) DeletePending(ctx context.Context, companyID, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "company_id": companyID, "accepted": false})
	if err != nil {
		return err
	}
	if res.DeletedCount == 1 {
		return nil
	}
	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.CompanyID != companyID {
		return ErrNotFound
	}
	return ErrAlreadyAccepted
}

func (s *Store) DeleteForCompany(ctx context.Context, companyID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
