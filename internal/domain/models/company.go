// internal/domain/models/company.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxCompaniesPerOwner caps how many companies a single user may own.
const MaxCompaniesPerOwner = 5

// MaxCompanyNameLength is measured in runes.
const MaxCompanyNameLength = 100

// Company is a shared workspace. NameCI is folded for the per-owner
// uniqueness index.
type Company struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Name      string             `bson:"name" json:"name"`
	NameCI    string             `bson:"name_ci" json:"-"`
	OwnerID   primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
