// internal/app/services/tasks/lifecycle.go
package tasks

import (
	"fmt"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type action int

const (
	actionClaim action = iota
	actionComplete
	actionUnassign
)

// transition mutates t in place. It may still refuse, e.g. when the actor
// is not the assignee.
type transition func(t *models.Task, actor primitive.ObjectID, now time.Time) error

// lifecycle lists the legal transitions out of each status. Done has none.
var lifecycle = map[models.TaskStatus]map[action]transition{
	models.TaskNew: {
		actionClaim: claim,
	},
	models.TaskAccepted: {
		actionComplete: complete,
		actionUnassign: unassign,
	},
	models.TaskDone: {},
}

var refusals = map[action]string{
	actionClaim:    "Невозможно взять задачу в состоянии %s",
	actionComplete: "Невозможно завершить задачу в состоянии %s",
	actionUnassign: "Невозможно сбросить задачу в состоянии %s",
}

func apply(t *models.Task, a action, actor primitive.ObjectID, now time.Time) error {
	fn, ok := lifecycle[t.Status][a]
	if !ok {
		return apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf(refusals[a], t.Status))
	}
	if err := fn(t, actor, now); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

func claim(t *models.Task, actor primitive.ObjectID, _ time.Time) error {
	id := actor
	t.AssignedToID = &id
	t.Status = models.TaskAccepted
	return nil
}

func complete(t *models.Task, actor primitive.ObjectID, _ time.Time) error {
	if t.AssignedToID == nil || *t.AssignedToID != actor {
		return apperr.Conflict(apperr.CodeConflict, "Только назначенный может завершить задачу.")
	}
	t.Status = models.TaskDone
	return nil
}

func unassign(t *models.Task, _ primitive.ObjectID, _ time.Time) error {
	t.AssignedToID = nil
	t.Status = models.TaskNew
	return nil
}
