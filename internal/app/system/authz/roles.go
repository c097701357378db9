// internal/app/system/authz/roles.go
package authz

import "github.com/dalemusser/unchainme/internal/domain/models"

// Action names a gated operation.
type Action string

const (
	ListTasks    Action = "list-tasks"
	CreateTask   Action = "create-task"
	ClaimTask    Action = "claim-task"
	CompleteTask Action = "complete-task"
	UnassignTask Action = "unassign-task"
	DeleteTask   Action = "delete-task"

	ListApplications  Action = "list-applications"
	CreateApplication Action = "create-application"
	AssistantReview   Action = "assistant-review"
	DirectorReview    Action = "director-review"

	ListMembers      Action = "list-members"
	InviteUser       Action = "invite-user"
	RemoveUser       Action = "remove-user"
	ListInvitations  Action = "list-invitations"
	CancelInvitation Action = "cancel-invitation"
	DeleteCompany    Action = "delete-company"
	ViewAuditLog     Action = "view-audit-log"
)

var anyRole = models.AllRoles

// allowList is the single source of which role may do what. Roles are not
// ranked; an action absent from this table is denied to everyone.
var allowList = map[Action][]models.Role{
	ListTasks:    anyRole,
	CreateTask:   {models.RoleManager, models.RoleAdmin},
	ClaimTask:    {models.RoleEmployee},
	CompleteTask: {models.RoleEmployee},
	UnassignTask: {models.RoleManager, models.RoleAdmin},
	DeleteTask:   {models.RoleManager, models.RoleAdmin},

	ListApplications:  anyRole,
	CreateApplication: {models.RoleEmployee},
	AssistantReview:   {models.RoleAssistant},
	DirectorReview:    {models.RoleDirector},

	ListMembers:      anyRole,
	InviteUser:       {models.RoleAdmin},
	RemoveUser:       {models.RoleAdmin},
	ListInvitations:  {models.RoleAdmin},
	CancelInvitation: {models.RoleAdmin},
	DeleteCompany:    {models.RoleAdmin},
	ViewAuditLog:     {models.RoleAdmin},
}

// Allows reports whether role may perform action. RoleNone never may.
func Allows(role models.Role, action Action) bool {
	if role == models.RoleNone {
		return false
	}
	for _, r := range allowList[action] {
		if r == role {
			return true
		}
	}
	return false
}

// RolesFor returns the roles allowed to perform action.
func RolesFor(action Action) []models.Role {
	out := make([]models.Role, len(allowList[action]))
	copy(out, allowList[action])
	return out
}
