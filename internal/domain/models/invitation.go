// internal/domain/models/invitation.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Invitation offers a role in a company to an email address. Once Accepted
// is true the row is never mutated again.
type Invitation struct {
	ID         primitive.ObjectID `bson:"_id" json:"id"`
	CompanyID  primitive.ObjectID `bson:"company_id" json:"company_id"`
	Email      string             `bson:"email" json:"email"` // normalized
	Role       Role               `bson:"role" json:"role"`
	RoleLabel  string             `bson:"role_label" json:"role_label"`
	InvitedBy  primitive.ObjectID `bson:"invited_by" json:"invited_by"`
	Accepted   bool               `bson:"accepted" json:"accepted"`
	AcceptedAt *time.Time         `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
