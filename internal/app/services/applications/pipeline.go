// internal/app/services/applications/pipeline.go
package applications

import (
	"fmt"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stage is one of the two review steps.
type Stage int

const (
	StageAssistant Stage = iota
	StageDirector
)

// step is a row of the pipeline: the only status a stage accepts and the
// status each verdict moves to.
type step struct {
	from     models.ApplicationStatus
	approved models.ApplicationStatus
	rejected models.ApplicationStatus
	stamp    func(a *models.Application, reviewer primitive.ObjectID, at time.Time, comment string)
}

var pipeline = map[Stage]step{
	StageAssistant: {
		from:     models.AppNew,
		approved: models.AppAssistantApproved,
		rejected: models.AppAssistantRejected,
		stamp: func(a *models.Application, reviewer primitive.ObjectID, at time.Time, comment string) {
			a.AssistantID = &reviewer
			a.AssistantReviewedAt = &at
			a.AssistantComment = comment
		},
	},
	StageDirector: {
		from:     models.AppAssistantApproved,
		approved: models.AppDirectorApproved,
		rejected: models.AppDirectorRejected,
		stamp: func(a *models.Application, reviewer primitive.ObjectID, at time.Time, comment string) {
			a.DirectorID = &reviewer
			a.DirectorReviewedAt = &at
			a.DirectorComment = comment
		},
	},
}

// review moves a forward through stage st. The pipeline never rewinds, so
// any status other than the stage's entry status is a conflict.
func review(a *models.Application, st Stage, reviewer primitive.ObjectID, approve bool, comment string, now time.Time) error {
	s, ok := pipeline[st]
	if !ok || a.Status != s.from {
		return apperr.Conflict(apperr.CodeAlreadyReviewed,
			fmt.Sprintf("Заявка уже рассмотрена или недоступна для этого этапа (статус: %s)", a.Status))
	}
	s.stamp(a, reviewer, now, comment)
	if approve {
		a.Status = s.approved
	} else {
		a.Status = s.rejected
	}
	return nil
}

// Done reports whether status counts as done in stats.
func Done(s models.ApplicationStatus) bool {
	return s == models.AppAssistantApproved || s == models.AppDirectorApproved
}

// Pending reports whether status counts as pending in stats.
// AssistantApproved is both done and pending.
func Pending(s models.ApplicationStatus) bool {
	return s == models.AppNew || s == models.AppAssistantApproved
}
