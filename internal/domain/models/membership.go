// internal/domain/models/membership.go
package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is a company-scoped role. Roles are not ordered; what each one may do
// is decided by the allow-list in the authz package.
type Role string

const (
	// RoleNone is returned for non-members and unaccepted memberships.
	RoleNone      Role = ""
	RoleEmployee  Role = "Employee"
	RoleManager   Role = "Manager"
	RoleAssistant Role = "Assistant"
	RoleDirector  Role = "Director"
	RoleAdmin     Role = "Admin"
)

// AllRoles lists every assignable role.
var AllRoles = []Role{RoleEmployee, RoleManager, RoleAssistant, RoleDirector, RoleAdmin}

// ParseRole matches a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	for _, r := range AllRoles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, true
		}
	}
	return RoleNone, false
}

// Label is the Russian label shown in invitations.
func (r Role) Label() string {
	switch r {
	case RoleAdmin:
		return "Администратор"
	case RoleManager:
		return "Менеджер"
	case RoleEmployee:
		return "Сотрудник"
	case RoleAssistant:
		return "Помощник"
	case RoleDirector:
		return "Директор"
	}
	return string(r)
}

// Membership links a user to a company with a role. There is exactly one
// row per (company_id, user_id); AcceptedAt nil means invited, not accepted.
type Membership struct {
	ID         primitive.ObjectID `bson:"_id" json:"id"`
	CompanyID  primitive.ObjectID `bson:"company_id" json:"company_id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role       Role               `bson:"role" json:"role"`
	InvitedAt  time.Time          `bson:"invited_at" json:"invited_at"`
	AcceptedAt *time.Time         `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
}

// Accepted reports whether the membership confers any rights.
func (m Membership) Accepted() bool {
	return m.AcceptedAt != nil
}
