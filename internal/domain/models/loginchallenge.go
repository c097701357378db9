// internal/domain/models/loginchallenge.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LoginChallenge is the second-factor record of one login attempt.
//
// CodeHash is a bcrypt hash of the one-time code. The plain code only ever
// travels over the external channel.
type LoginChallenge struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    primitive.ObjectID `bson:"user_id"`
	CodeHash  string             `bson:"code"`
	Approved  bool               `bson:"approved"`
	Rejected  bool               `bson:"rejected"`
	Consumed  bool               `bson:"consumed"`
	Attempts  int                `bson:"attempts"`
	ExpiresAt time.Time          `bson:"expires_at"`
	CreatedAt time.Time          `bson:"created_at"`
}

// Expired reports whether the challenge is past its deadline at now.
func (c LoginChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
