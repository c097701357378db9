// internal/app/store/applications/applicationstore.go
package applicationstore

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
	ErrNotFound        = errors.New("application not found")
	ErrVersionConflict = errors.New("application was modified concurrently")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("applications")}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_applications_company_created"),
		},
		{
			Keys:    bson.D{{Key: "created_by_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_applications_creator_status"),
		},
	})
	return err
}

// Create inserts a with version 1.
func (s *Store) Create(ctx context.Context, a *models.Application) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Version = 1
	_, err := s.c.InsertOne(ctx, a)
	return err
}

// Get loads an application of the given company.
func (s *Store) Get(ctx context.Context, companyID, id primitive.ObjectID) (models.Application, error) {
	var a models.Application
	if err := s.c.FindOne(ctx, bson.M{"_id": id, "company_id": companyID}).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Application{}, ErrNotFound
		}
		return models.Application{}, err
	}
	return a, nil
}

// List returns the company's applications, newest first. A non-nil
// createdBy restricts the result to that creator.
func (s *Store) List(ctx context.Context, companyID primitive.ObjectID, createdBy *primitive.ObjectID) ([]models.Application, error) {
	filter := bson.M{"company_id": companyID}
	if createdBy != nil {
		filter["created_by_id"] = *createdBy
	}
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Application
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the stored application if its version still equals
// a.Version, then bumps a.Version.
func (s *Store) Update(ctx context.Context, a *models.Application) error {
	expected := a.Version
	next := *a
	next.Version = expected + 1
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": a.ID, "version": expected}, next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	a.Version = next.Version
	return nil
}

// CountByStatus counts applications created by creatorID inside the given
// companies, grouped by status.
func (s *Store) CountByStatus(ctx context.Context, creatorID primitive.ObjectID, companyIDs []primitive.ObjectID) (map[models.ApplicationStatus]int, error) {
	out := make(map[models.ApplicationStatus]int)
	if len(companyIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"created_by_id": creatorID,
			"company_id":    bson.M{"$in": companyIDs},
		}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			Status models.ApplicationStatus `bson:"_id"`
			N      int                      `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Status] = row.N
	}
	return out, cur.Err()
}

func (s *Store) DeleteForCompany(ctx context.Context, companyID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
