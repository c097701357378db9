// internal/app/store/emailconfirm/store.go
package emailconfirm

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// TokenLength is the length of the link token in bytes (32 bytes = 64 hex chars).
	TokenLength = 32
	// DefaultExpiry is how long a confirmation link is valid.
	DefaultExpiry = 24 * time.Hour
	// MaxResends is the maximum number of resends within ResendWindow.
	MaxResends = 3
	// ResendWindow is the time window for tracking resend rate limiting.
	ResendWindow = time.Hour
)

var (
	// ErrNotFound is returned when no unexpired confirmation exists.
	ErrNotFound = errors.New("confirmation not found or expired")
	// ErrInvalidToken is returned when the token doesn't match.
	ErrInvalidToken = errors.New("invalid confirmation token")
	// ErrTooManyResends is returned when too many resend requests have been made.
	ErrTooManyResends = errors.New("too many resend requests")
)

// Confirmation is a pending email confirmation. Only a SHA-256 of the token
// is stored; the token itself goes out in the email link.
type Confirmation struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      primitive.ObjectID `bson:"user_id"`
	Email       string             `bson:"email"`
	TokenHash   string             `bson:"token_hash"`
	ExpiresAt   time.Time          `bson:"expires_at"` // TTL index field
	CreatedAt   time.Time          `bson:"created_at"`
	ResendCount int                `bson:"resend_count"`
	WindowStart time.Time          `bson:"window_start"`
}

// Store manages email confirmation records.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a Store. If expiry is 0 or negative, DefaultExpiry is used.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		c:      db.Collection("email_confirmations"),
		expiry: expiry,
	}
}

// EnsureIndexes creates the TTL index for auto-cleanup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_emailconfirm_expires_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_emailconfirm_user"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create replaces any pending confirmation of the user with a new one and
// returns the plain token for the email link. If isResend is true, this
// counts against the resend limit.
func (s *Store) Create(ctx context.Context, userID primitive.ObjectID, email string, isResend bool) (string, error) {
	now := time.Now().UTC()

	var existing Confirmation
	err := s.c.FindOne(ctx, bson.M{"user_id": userID}).Decode(&existing)
	existingFound := err == nil

	resendCount := 0
	windowStart := now
	if existingFound && now.Before(existing.WindowStart.Add(ResendWindow)) {
		if isResend && existing.ResendCount >= MaxResends {
			return "", ErrTooManyResends
		}
		windowStart = existing.WindowStart
		resendCount = existing.ResendCount
		if isResend {
			resendCount++
		}
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	_, _ = s.c.DeleteMany(ctx, bson.M{"user_id": userID})

	c := Confirmation{
		ID:          primitive.NewObjectID(),
		UserID:      userID,
		Email:       email,
		TokenHash:   hashToken(token),
		ExpiresAt:   now.Add(s.expiry),
		CreatedAt:   now,
		ResendCount: resendCount,
		WindowStart: windowStart,
	}
	if _, err := s.c.InsertOne(ctx, c); err != nil {
		return "", fmt.Errorf("insert confirmation: %w", err)
	}
	return token, nil
}

// Verify checks token for the user. The record is deleted on success.
func (s *Store) Verify(ctx context.Context, userID primitive.ObjectID, token string) (*Confirmation, error) {
	var c Confirmation
	err := s.c.FindOne(ctx, bson.M{
		"user_id":    userID,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(c.TokenHash), []byte(hashToken(token))) != 1 {
		return nil, ErrInvalidToken
	}

	_, _ = s.c.DeleteOne(ctx, bson.M{"_id": c.ID})
	return &c, nil
}

// DeleteByUser deletes all confirmation records for a user.
func (s *Store) DeleteByUser(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CleanupExpired removes confirmations past their expiry. The TTL monitor
// normally does this; the sweep covers deployments where it lags.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
