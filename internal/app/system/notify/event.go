// internal/app/system/notify/event.go
// Package notify delivers asynchronous events to specific users. Delivery is
// best effort: emitting never blocks and failures are only logged.
package notify

import "time"

// Kind identifies what happened.
type Kind string

const (
	KindTaskUnassigned       Kind = "task.unassigned"
	KindTaskDeleted          Kind = "task.deleted"
	KindApplicationCreated   Kind = "application.created"
	KindApplicationForwarded Kind = "application.forwarded"
	KindApplicationReviewed  Kind = "application.reviewed"
	KindInvitationAccepted   Kind = "invitation.accepted"
	KindMembershipRemoved    Kind = "membership.removed"
)

// Event is a notification addressed to one or more users.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	UserIDs   []string  `json:"-"`
	CompanyID string    `json:"companyId,omitempty"`
	RefID     string    `json:"refId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Emitter accepts events for delivery. Emit must not block.
type Emitter interface {
	Emit(Event)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
