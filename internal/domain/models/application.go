// internal/domain/models/application.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ApplicationStatus is the position of an application in the review pipeline.
type ApplicationStatus string

const (
	AppNew               ApplicationStatus = "New"
	AppAssistantApproved ApplicationStatus = "AssistantApproved"
	AppAssistantRejected ApplicationStatus = "AssistantRejected"
	AppDirectorApproved  ApplicationStatus = "DirectorApproved"
	AppDirectorRejected  ApplicationStatus = "DirectorRejected"
)

// ApplicationType is what an employee is asking for.
type ApplicationType string

const (
	AppTypeVacation     ApplicationType = "Vacation"
	AppTypeSickLeave    ApplicationType = "SickLeave"
	AppTypeBusinessTrip ApplicationType = "BusinessTrip"
	AppTypeEquipment    ApplicationType = "Equipment"
	AppTypeOther        ApplicationType = "Other" // CustomType carries the description
)

// AllApplicationTypes lists the accepted values of ApplicationType.
var AllApplicationTypes = []ApplicationType{
	AppTypeVacation, AppTypeSickLeave, AppTypeBusinessTrip, AppTypeEquipment, AppTypeOther,
}

// Application is an employee request reviewed first by an assistant and then
// by a director. It only ever moves forward.
type Application struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	CompanyID   primitive.ObjectID `bson:"company_id" json:"company_id"`
	CreatedByID primitive.ObjectID `bson:"created_by_id" json:"created_by_id"`
	Type        ApplicationType    `bson:"type" json:"type"`
	CustomType  string             `bson:"custom_type,omitempty" json:"custom_type,omitempty"`
	Comment     string             `bson:"comment,omitempty" json:"comment,omitempty"`
	Status      ApplicationStatus  `bson:"status" json:"status"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`

	AssistantID         *primitive.ObjectID `bson:"assistant_id,omitempty" json:"assistant_id,omitempty"`
	AssistantReviewedAt *time.Time          `bson:"assistant_reviewed_at,omitempty" json:"assistant_reviewed_at,omitempty"`
	AssistantComment    string              `bson:"assistant_comment,omitempty" json:"assistant_comment,omitempty"`

	DirectorID         *primitive.ObjectID `bson:"director_id,omitempty" json:"director_id,omitempty"`
	DirectorReviewedAt *time.Time          `bson:"director_reviewed_at,omitempty" json:"director_reviewed_at,omitempty"`
	DirectorComment    string              `bson:"director_comment,omitempty" json:"director_comment,omitempty"`

	Version int64 `bson:"version" json:"-"`
}

// ApplicationStats is the per-user summary across all companies.
type ApplicationStats struct {
	Companies int `json:"companies"`
	Total     int `json:"total"`
	Done      int `json:"done"`
	Pending   int `json:"pending"`
}
