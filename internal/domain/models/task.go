// internal/domain/models/task.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskNew      TaskStatus = "New"
	TaskAccepted TaskStatus = "Accepted"
	TaskDone     TaskStatus = "Done"
)

// Task is a unit of work inside a company. Version is bumped on every write
// and used as the optimistic concurrency token.
type Task struct {
	ID           primitive.ObjectID  `bson:"_id" json:"id"`
	CompanyID    primitive.ObjectID  `bson:"company_id" json:"company_id"`
	Title        string              `bson:"title" json:"title"`
	Description  string              `bson:"description,omitempty" json:"description,omitempty"`
	CreatedByID  primitive.ObjectID  `bson:"created_by_id" json:"created_by_id"`
	AssignedToID *primitive.ObjectID `bson:"assigned_to_id,omitempty" json:"assigned_to_id,omitempty"`
	Status       TaskStatus          `bson:"status" json:"status"`
	Version      int64               `bson:"version" json:"-"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updated_at"`
}
